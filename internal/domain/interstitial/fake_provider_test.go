package interstitial_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
)

type fakeHandle struct {
	id          string
	placementID string
}

func (h *fakeHandle) ID() string          { return h.id }
func (h *fakeHandle) PlacementID() string { return h.placementID }

// fakeProvider records every command and lets tests emit events by handle ID
type fakeProvider struct {
	mu        sync.Mutex
	nextID    int
	commands  []string
	listeners map[string]interstitial.Listener
	stale     map[string]bool
	createErr error

	// loadSync emits EventLoaded from inside Load
	loadSync bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		listeners: make(map[string]interstitial.Listener),
		stale:     make(map[string]bool),
	}
}

func (p *fakeProvider) record(cmd string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmd)
}

func (p *fakeProvider) Create(placementID string) (interstitial.Handle, error) {
	p.record("create:" + placementID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextID++
	return &fakeHandle{id: fmt.Sprintf("h%d", p.nextID), placementID: placementID}, nil
}

func (p *fakeProvider) Load(handle interstitial.Handle, listener interstitial.Listener) {
	p.record("load:" + handle.ID())

	p.mu.Lock()
	p.listeners[handle.ID()] = listener
	emitNow := p.loadSync
	p.mu.Unlock()

	if emitNow {
		listener.OnAdEvent(interstitial.Loaded())
	}
}

func (p *fakeProvider) Show(handle interstitial.Handle) {
	p.record("show:" + handle.ID())
}

func (p *fakeProvider) IsLoaded(handle interstitial.Handle) bool {
	p.record("isLoaded:" + handle.ID())

	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stale[handle.ID()]
}

func (p *fakeProvider) Destroy(handle interstitial.Handle) {
	p.record("destroy:" + handle.ID())
}

func (p *fakeProvider) markStale(handleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stale[handleID] = true
}

func (p *fakeProvider) failCreate(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createErr = errors.New(msg)
}

func (p *fakeProvider) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}

// emit delivers an event through the listener registered for handleID.
// Callers must make sure Load has run, e.g. with a Snapshot barrier.
func (p *fakeProvider) emit(t *testing.T, handleID string, event interstitial.Event) {
	t.Helper()

	p.mu.Lock()
	listener, ok := p.listeners[handleID]
	p.mu.Unlock()

	require.True(t, ok, "no listener registered for %s", handleID)
	listener.OnAdEvent(event)
}
