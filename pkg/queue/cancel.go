package queue

import (
	"sync"
	"sync/atomic"
)

// CancelScope is the per-job cancellation primitive. It transitions from
// not-cancelled to cancelled exactly once and is never reset.
//
// Handlers read the scope; only the dispatch machinery sets it. Applying a
// cancellation to an already-cancelled scope is a no-op, so at-least-once
// delivery of cancellation requests is safe.
type CancelScope struct {
	called atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newCancelScope() *CancelScope {
	return &CancelScope{done: make(chan struct{})}
}

// CancelCalled reports whether a cancellation request was recorded for the
// job. It is purely informational: nothing forces the handler to stop, and
// the job's terminal status is "canceled" regardless of how the handler
// reacts.
func (s *CancelScope) CancelCalled() bool {
	return s.called.Load()
}

// Done returns a channel that is closed when a cancellation request lands.
// It never closes for jobs that are not cancelled.
func (s *CancelScope) Done() <-chan struct{} {
	return s.done
}

// cancel records the cancellation request. The flag is set before the channel
// closes so any goroutine woken by Done observes CancelCalled() == true.
func (s *CancelScope) cancel() {
	s.called.Store(true)
	s.once.Do(func() { close(s.done) })
}
