package interstitial

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Observer receives coordinator lifecycle notifications, typically for metrics
type Observer interface {
	StateChanged(from, to string)
	EventReceived(event string, stale bool)
	HandleCreated()
	HandleDestroyed()
}

type noopObserver struct{}

func (noopObserver) StateChanged(string, string) {}
func (noopObserver) EventReceived(string, bool)  {}
func (noopObserver) HandleCreated()              {}
func (noopObserver) HandleDestroyed()            {}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger used for state transitions and discarded events
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithObserver sets the lifecycle observer
func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// activeAd is the owned provider handle together with its generation token
type activeAd struct {
	generation  uint64
	handle      Handle
	placementID string
}

// Coordinator owns the single interstitial slot. Requests and provider events
// are serialized through one mailbox goroutine; all fields below the mailbox
// are touched only from that goroutine.
type Coordinator struct {
	provider Provider
	log      logrus.FieldLogger
	observer Observer

	box       *mailbox
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}

	state         State
	intent        Intent
	active        *activeAd
	generation    uint64
	showResult    *Result
	preloadResult *Result
	didClick      bool
	stopped       bool
}

// NewCoordinator creates a coordinator for provider. Call Start before use.
func NewCoordinator(provider Provider, opts ...Option) *Coordinator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Coordinator{
		provider: provider,
		log:      discard,
		observer: noopObserver{},
		box:      newMailbox(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the coordinator loop until ctx is cancelled or Stop is called
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Stop tears down the active ad, rejects every pending request with
// ErrHostDestroyed and waits for the loop to exit. Requests made after Stop
// are rejected immediately.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.startOnce.Do(func() {
		c.shutdown()
		close(c.done)
	})
	<-c.done
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.stopCh:
			c.shutdown()
			return
		case <-c.box.notify:
			for _, fn := range c.box.take() {
				fn()
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.teardown()
	c.stopped = true
	for _, fn := range c.box.close() {
		fn()
	}
	c.log.Debug("Interstitial coordinator stopped")
}

// LoadAd is an alias for PreloadAd
func (c *Coordinator) LoadAd(placementID string) *Result {
	return c.PreloadAd(placementID)
}

// ShowAd loads a fresh ad for the placement and shows it as soon as it loads.
// The result resolves with whether the ad was clicked once it is dismissed.
func (c *Coordinator) ShowAd(placementID string) *Result {
	return c.submit(placementID, c.showAd)
}

// PreloadAd loads an ad for the placement without showing it. The result
// resolves with true once the ad is loaded.
func (c *Coordinator) PreloadAd(placementID string) *Result {
	return c.submit(placementID, c.preloadAd)
}

// ShowPreloadedAd shows the ad previously preloaded for the placement
func (c *Coordinator) ShowPreloadedAd(placementID string) *Result {
	return c.submit(placementID, c.showPreloadedAd)
}

// HostTeardown rejects all pending requests with ErrHostDestroyed and
// destroys the active ad. It is safe to call when nothing is pending.
func (c *Coordinator) HostTeardown() {
	c.box.post(c.teardown)
}

// Snapshot returns the coordinator state once every previously submitted
// request and event has been processed
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	out := make(chan Snapshot, 1)
	if !c.box.post(func() { out <- c.snapshot() }) {
		return Snapshot{Stopped: true}, nil
	}

	select {
	case s := <-out:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Coordinator) submit(placementID string, handle func(string, *Result)) *Result {
	if err := ValidatePlacementID(placementID); err != nil {
		return RejectedResult(err)
	}

	result := NewPendingResult()
	if !c.box.post(func() { handle(placementID, result) }) {
		result.Reject(ErrHostDestroyed)
	}
	return result
}

func (c *Coordinator) hasPending() bool {
	return c.showResult != nil || c.preloadResult != nil
}

func (c *Coordinator) showAd(placementID string, result *Result) {
	if c.stopped {
		result.Reject(ErrHostDestroyed)
		return
	}
	if c.hasPending() {
		result.Reject(ErrOperationInProgress)
		return
	}

	c.showResult = result
	c.beginLoad(placementID, IntentShow)
}

func (c *Coordinator) preloadAd(placementID string, result *Result) {
	if c.stopped {
		result.Reject(ErrHostDestroyed)
		return
	}
	if c.hasPending() {
		result.Reject(ErrOperationInProgress)
		return
	}

	if c.state == StatePreloaded && c.active != nil && c.active.placementID == placementID {
		result.Resolve(true)
		return
	}

	c.preloadResult = result
	c.beginLoad(placementID, IntentPreload)
}

// beginLoad replaces any active handle with a fresh one and starts loading it
func (c *Coordinator) beginLoad(placementID string, intent Intent) {
	c.destroyActive()
	c.didClick = false

	handle, err := c.provider.Create(placementID)
	if err != nil {
		c.log.WithError(err).WithField("placementId", placementID).Warn("Provider failed to create interstitial")
		c.fail(&LoadError{Message: err.Error()})
		return
	}

	c.generation++
	c.active = &activeAd{
		generation:  c.generation,
		handle:      handle,
		placementID: placementID,
	}
	c.observer.HandleCreated()
	c.transition(StateLoading, intent)

	c.provider.Load(handle, c.listenerFor(c.generation))
}

func (c *Coordinator) showPreloadedAd(placementID string, result *Result) {
	if c.stopped {
		result.Reject(ErrHostDestroyed)
		return
	}
	// Only the show slot is checked; a pending preload does not block this call.
	if c.showResult != nil {
		result.Reject(ErrAdAlreadyShowing)
		return
	}
	if c.state != StatePreloaded || c.active == nil || c.active.placementID != placementID {
		result.Reject(ErrAdNotReady)
		return
	}

	if !c.provider.IsLoaded(c.active.handle) {
		c.log.WithField("placementId", placementID).Warn("Preloaded interstitial is no longer loaded, discarding it")
		result.Reject(ErrAdNotReady)
		c.reset()
		return
	}

	c.showResult = result
	c.didClick = false
	c.transition(StateShowing, IntentNone)
	c.provider.Show(c.active.handle)
}

func (c *Coordinator) listenerFor(generation uint64) Listener {
	return ListenerFunc(func(event Event) {
		c.box.post(func() { c.handleEvent(generation, event) })
	})
}

func (c *Coordinator) handleEvent(generation uint64, event Event) {
	if c.active == nil || c.active.generation != generation {
		c.observer.EventReceived(string(event.Type), true)
		c.log.WithFields(logrus.Fields{
			"event":      event.Type,
			"generation": generation,
		}).Debug("Discarding event for stale interstitial")
		return
	}
	c.observer.EventReceived(string(event.Type), false)

	switch event.Type {
	case EventError:
		c.fail(&LoadError{Message: event.Message})
	case EventLoaded:
		c.onLoaded()
	case EventClicked:
		c.didClick = true
	case EventDismissed:
		c.onDismissed()
	case EventDisplayed, EventImpressionLogged:
	default:
		c.log.WithField("event", event.Type).Warn("Ignoring unknown interstitial event")
	}
}

func (c *Coordinator) onLoaded() {
	if c.state != StateLoading {
		c.log.WithField("state", c.state).Debug("Ignoring load event outside of loading state")
		return
	}

	if c.intent == IntentShow {
		c.transition(StateShowing, IntentShow)
		c.provider.Show(c.active.handle)
		return
	}

	c.transition(StatePreloaded, IntentNone)
	if result := c.preloadResult; result != nil {
		c.preloadResult = nil
		result.Resolve(true)
	}
}

func (c *Coordinator) onDismissed() {
	if result := c.showResult; result != nil {
		c.showResult = nil
		result.Resolve(c.didClick)
	}
	// A preload still waiting on a dismissed handle can never load.
	if result := c.preloadResult; result != nil {
		c.preloadResult = nil
		result.Reject(ErrAdNotReady)
	}
	c.reset()
}

// fail rejects every pending request with err and returns to idle
func (c *Coordinator) fail(err error) {
	if result := c.preloadResult; result != nil {
		c.preloadResult = nil
		result.Reject(err)
	}
	if result := c.showResult; result != nil {
		c.showResult = nil
		result.Reject(err)
	}
	c.reset()
}

func (c *Coordinator) teardown() {
	if c.hasPending() || c.active != nil {
		c.log.Info("Host teardown, releasing interstitial")
	}
	c.fail(ErrHostDestroyed)
}

func (c *Coordinator) reset() {
	c.destroyActive()
	c.didClick = false
	c.transition(StateIdle, IntentNone)
}

func (c *Coordinator) destroyActive() {
	if c.active == nil {
		return
	}
	c.provider.Destroy(c.active.handle)
	c.active = nil
	c.observer.HandleDestroyed()
}

func (c *Coordinator) transition(to State, intent Intent) {
	from := c.state
	c.state = to
	c.intent = intent
	if from == to {
		return
	}

	entry := c.log.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	})
	if c.active != nil {
		entry = entry.WithField("placementId", c.active.placementID)
	}
	entry.Debug("Interstitial state changed")
	c.observer.StateChanged(from.String(), to.String())
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		State:          c.state,
		Intent:         c.intent,
		Generation:     c.generation,
		ShowPending:    c.showResult != nil,
		PreloadPending: c.preloadResult != nil,
		DidClick:       c.didClick,
		Stopped:        c.stopped,
	}
	if c.active != nil {
		s.PlacementID = c.active.placementID
	}
	return s
}
