package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ExecutionContext is the per-claimed-job object carrying the job's identity
// and its CancelScope. The Manager owns it: it is created when the job is
// dispatched and discarded once the job's outcome has been persisted. It is
// never shared across jobs.
type ExecutionContext struct {
	JobID        uuid.UUID
	Cancellation *CancelScope

	kind HandlerKind
}

func newExecutionContext(jobID uuid.UUID, kind HandlerKind) *ExecutionContext {
	return &ExecutionContext{
		JobID:        jobID,
		Cancellation: newCancelScope(),
		kind:         kind,
	}
}

// Scoped runs fn as a cancellation guarded region. The context passed to fn
// is cancelled the moment a cancellation request lands for the job, so
// context-aware waits inside the region return early and the code after them
// never executes. Scoped reports such an interruption as ErrCanceled; any
// other error from fn is returned unchanged.
//
// Only concurrent handlers may enter a guarded region. A blocking handler
// exposes no suspension point at which an interrupt could be delivered
// safely, so Scoped refuses it immediately with
// ErrScopedCancellationUnsupported instead of degrading to the passive flag.
func (ec *ExecutionContext) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	if ec.kind == KindBlocking {
		return ErrScopedCancellationUnsupported
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A cancellation that landed before region entry interrupts the first
	// wait inside the region.
	if ec.Cancellation.CancelCalled() {
		cancel()
	}

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ec.Cancellation.Done():
			cancel()
		case <-exited:
		}
	}()

	err := fn(sctx)
	if ec.Cancellation.CancelCalled() && errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	return err
}

type execContextKey struct{}

func withExecContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom returns the ExecutionContext of the job being handled, if
// ctx belongs to a handler invocation.
func ExecContextFrom(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(*ExecutionContext)
	return ec, ok
}
