package interstitial

import "sync"

// mailbox is an unbounded FIFO of work for the coordinator goroutine.
// Posting never blocks, so provider callbacks fired from inside a provider
// command cannot deadlock the loop.
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) take() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.queue
	m.queue = nil
	return work
}

// close rejects further posts and returns whatever was still queued
func (m *mailbox) close() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	work := m.queue
	m.queue = nil
	return work
}
