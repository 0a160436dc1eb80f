package interstitial

import (
	"context"
	"sync"
)

// Result is the one-shot eventual outcome of a caller request.
// It settles exactly once, either with a value or with an error.
type Result struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   bool
	err     error
}

// NewPendingResult creates an unsettled result
func NewPendingResult() *Result {
	return &Result{done: make(chan struct{})}
}

// ResolvedResult creates a result already settled with value
func ResolvedResult(value bool) *Result {
	r := NewPendingResult()
	r.Resolve(value)
	return r
}

// RejectedResult creates a result already settled with err
func RejectedResult(err error) *Result {
	r := NewPendingResult()
	r.Reject(err)
	return r
}

// Resolve settles the result with a value. It returns false if the result
// was already settled, in which case nothing changes.
func (r *Result) Resolve(value bool) bool {
	return r.settle(value, nil)
}

// Reject settles the result with an error. It returns false if the result
// was already settled, in which case nothing changes.
func (r *Result) Reject(err error) bool {
	return r.settle(false, err)
}

func (r *Result) settle(value bool, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settled {
		return false
	}
	r.settled = true
	r.value = value
	r.err = err
	close(r.done)
	return true
}

// Done is closed once the result settles
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the result has been resolved or rejected
func (r *Result) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settled
}

// Wait blocks until the result settles or ctx is done. A context error is
// returned only when the result is still pending.
func (r *Result) Wait(ctx context.Context) (bool, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		select {
		case <-r.done:
		default:
			return false, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}
