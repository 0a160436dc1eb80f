package provider

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
)

// NoFillMessage is the load error reported when the simulated network has no ad
const NoFillMessage = "No fill"

// reported through the listener when Show is called on an ad that is not loaded
const notLoadedMessage = "ad is not loaded"

var errBlankPlacement = errors.New("placement ID cannot be empty")

// SimulatedConfig controls timings and odds of the simulated ad network
type SimulatedConfig struct {
	LoadDelay       time.Duration
	DisplayDuration time.Duration
	FillRate        float64
	ClickRate       float64
	Seed            int64
}

type simulatedHandle struct {
	id          string
	placementID string
}

func (h *simulatedHandle) ID() string          { return h.id }
func (h *simulatedHandle) PlacementID() string { return h.placementID }

type simulatedAd struct {
	handle    *simulatedHandle
	listener  interstitial.Listener
	loaded    bool
	destroyed bool
	timers    []*time.Timer
}

// SimulatedProvider is an in-process ad network. Loads complete after the
// configured delay and succeed with FillRate probability; a shown ad is
// dismissed after DisplayDuration, clicked with ClickRate probability.
type SimulatedProvider struct {
	cfg SimulatedConfig
	log *logrus.Entry

	mu  sync.Mutex
	rng *rand.Rand
	ads map[string]*simulatedAd
}

// NewSimulatedProvider creates a new SimulatedProvider
func NewSimulatedProvider(cfg SimulatedConfig, log *logger.Logger) *SimulatedProvider {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedProvider{
		cfg: cfg,
		log: log.Component("simulated-provider"),
		rng: rand.New(rand.NewSource(seed)),
		ads: make(map[string]*simulatedAd),
	}
}

// Create registers a new interstitial for the placement
func (p *SimulatedProvider) Create(placementID string) (interstitial.Handle, error) {
	if strings.TrimSpace(placementID) == "" {
		return nil, errBlankPlacement
	}

	h := &simulatedHandle{id: uuid.New().String(), placementID: placementID}

	p.mu.Lock()
	p.ads[h.id] = &simulatedAd{handle: h}
	p.mu.Unlock()

	return h, nil
}

// Load starts loading; the outcome is delivered to listener asynchronously
func (p *SimulatedProvider) Load(handle interstitial.Handle, listener interstitial.Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ad, ok := p.ads[handle.ID()]
	if !ok {
		return
	}
	ad.listener = listener
	filled := p.rng.Float64() < p.cfg.FillRate

	p.scheduleLocked(ad, p.cfg.LoadDelay, func() {
		if filled {
			p.mu.Lock()
			ad.loaded = !ad.destroyed
			p.mu.Unlock()
			p.emit(ad, interstitial.Loaded())
			return
		}
		p.emit(ad, interstitial.Failed(NoFillMessage))
	})
}

// Show presents a loaded ad. A shown ad is consumed and no longer loaded.
func (p *SimulatedProvider) Show(handle interstitial.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ad, ok := p.ads[handle.ID()]
	if !ok {
		return
	}
	if !ad.loaded {
		p.scheduleLocked(ad, 0, func() {
			p.emit(ad, interstitial.Failed(notLoadedMessage))
		})
		return
	}

	ad.loaded = false
	clicked := p.rng.Float64() < p.cfg.ClickRate

	p.scheduleLocked(ad, 0, func() {
		p.emit(ad, interstitial.Displayed())
		p.emit(ad, interstitial.ImpressionLogged())

		p.mu.Lock()
		defer p.mu.Unlock()
		p.scheduleLocked(ad, p.cfg.DisplayDuration, func() {
			if clicked {
				p.emit(ad, interstitial.Clicked())
			}
			p.emit(ad, interstitial.Dismissed())
		})
	})
}

// IsLoaded reports whether the ad is loaded and not yet shown
func (p *SimulatedProvider) IsLoaded(handle interstitial.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ad, ok := p.ads[handle.ID()]
	return ok && ad.loaded && !ad.destroyed
}

// Destroy releases the ad and cancels anything it still has scheduled
func (p *SimulatedProvider) Destroy(handle interstitial.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ad, ok := p.ads[handle.ID()]
	if !ok {
		return
	}
	ad.destroyed = true
	ad.loaded = false
	for _, t := range ad.timers {
		t.Stop()
	}
	ad.timers = nil
	delete(p.ads, handle.ID())
}

// Active returns the number of ads created and not yet destroyed
func (p *SimulatedProvider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ads)
}

// Expire drops the loaded flag of an ad, as a network does when a loaded ad
// goes stale before it is shown
func (p *SimulatedProvider) Expire(handle interstitial.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ad, ok := p.ads[handle.ID()]; ok {
		ad.loaded = false
	}
}

func (p *SimulatedProvider) scheduleLocked(ad *simulatedAd, d time.Duration, fn func()) {
	if ad.destroyed {
		return
	}
	ad.timers = append(ad.timers, time.AfterFunc(d, fn))
}

// emit delivers event unless the ad was destroyed in the meantime
func (p *SimulatedProvider) emit(ad *simulatedAd, event interstitial.Event) {
	p.mu.Lock()
	listener := ad.listener
	destroyed := ad.destroyed
	p.mu.Unlock()

	if destroyed || listener == nil {
		return
	}

	p.log.WithFields(logrus.Fields{
		"handleId":    ad.handle.id,
		"placementId": ad.handle.placementID,
		"event":       event.Type,
	}).Debug("Simulated ad event")
	listener.OnAdEvent(event)
}
