package review

import (
	"context"
	"sync"
)

// Run is a review executing in the background. Events must be drained until
// closed, or Detach must be called.
type Run struct {
	ReviewID string

	events   chan Event
	mu       sync.Mutex
	detached chan struct{}
	detach   sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
	outcome  Outcome
}

func newRun(reviewID string, buffer int, cancel context.CancelFunc) *Run {
	return &Run{
		ReviewID: reviewID,
		events:   make(chan Event, buffer),
		detached: make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Events yields the review's events and closes after the done event.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Detach stops delivery. The review keeps running and persisting.
func (r *Run) Detach() {
	r.detach.Do(func() { close(r.detached) })
}

// Cancel aborts persona calls that have not finished. They end as failed.
func (r *Run) Cancel() {
	r.cancel()
}

// Done closes once the review reached its terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Outcome is valid after Done is closed.
func (r *Run) Outcome() Outcome {
	<-r.done
	return r.outcome
}

func (r *Run) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.detached:
		return
	default:
	}
	select {
	case r.events <- ev:
	case <-r.detached:
	}
}

func (r *Run) finish(out Outcome) {
	r.mu.Lock()
	r.outcome = out
	close(r.events)
	r.mu.Unlock()
	close(r.done)
}
