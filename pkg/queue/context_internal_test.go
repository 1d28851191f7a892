package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelScope(t *testing.T) {
	t.Parallel()

	t.Run("starts clean", func(t *testing.T) {
		t.Parallel()

		scope := newCancelScope()
		assert.False(t, scope.CancelCalled())
		select {
		case <-scope.Done():
			t.Fatal("done channel closed without cancellation")
		default:
		}
	})

	t.Run("cancel sets flag and closes done", func(t *testing.T) {
		t.Parallel()

		scope := newCancelScope()
		scope.cancel()
		assert.True(t, scope.CancelCalled())
		select {
		case <-scope.Done():
		case <-time.After(time.Second):
			t.Fatal("done channel not closed after cancellation")
		}
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		t.Parallel()

		scope := newCancelScope()
		scope.cancel()
		scope.cancel()
		scope.cancel()
		assert.True(t, scope.CancelCalled())
	})

	t.Run("flag is visible to waiters woken by done", func(t *testing.T) {
		t.Parallel()

		scope := newCancelScope()

		var wg sync.WaitGroup
		observed := make([]bool, 8)
		for i := range observed {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-scope.Done()
				observed[i] = scope.CancelCalled()
			}(i)
		}

		scope.cancel()
		wg.Wait()
		for i, ok := range observed {
			assert.True(t, ok, "waiter %d observed a clean flag", i)
		}
	})
}

func TestExecutionContext_Scoped(t *testing.T) {
	t.Parallel()

	t.Run("runs to completion without cancellation", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindConcurrent)
		ran := false
		err := ec.Scoped(context.Background(), func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("interrupts the wait and skips the rest of the region", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindConcurrent)
		entered := make(chan struct{})
		afterWait := false

		done := make(chan error, 1)
		go func() {
			done <- ec.Scoped(context.Background(), func(ctx context.Context) error {
				close(entered)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
				}
				afterWait = true
				return nil
			})
		}()

		<-entered
		ec.Cancellation.cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrCanceled)
		case <-time.After(time.Second):
			t.Fatal("guarded region was not interrupted")
		}
		assert.False(t, afterWait, "code after the interrupted wait must not run")
	})

	t.Run("cancellation before entry interrupts the first wait", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindConcurrent)
		ec.Cancellation.cancel()

		err := ec.Scoped(context.Background(), func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return errors.New("wait was not interrupted")
			}
		})
		assert.ErrorIs(t, err, ErrCanceled)
	})

	t.Run("handler errors pass through unchanged", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindConcurrent)
		errBoom := errors.New("boom")
		err := ec.Scoped(context.Background(), func(ctx context.Context) error {
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("refused for blocking handlers", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindBlocking)
		ran := false
		err := ec.Scoped(context.Background(), func(ctx context.Context) error {
			ran = true
			return nil
		})
		assert.ErrorIs(t, err, ErrScopedCancellationUnsupported)
		assert.False(t, ran, "guarded region must not run for blocking handlers")
	})

	t.Run("exiting the region before cancellation is a no-op", func(t *testing.T) {
		t.Parallel()

		ec := newExecutionContext(uuid.New(), KindConcurrent)
		err := ec.Scoped(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)

		// A cancellation landing after the region exited changes nothing.
		ec.Cancellation.cancel()
		assert.True(t, ec.Cancellation.CancelCalled())
	})
}

func TestExecContextFrom(t *testing.T) {
	t.Parallel()

	ec := newExecutionContext(uuid.New(), KindConcurrent)
	ctx := withExecContext(context.Background(), ec)

	got, ok := ExecContextFrom(ctx)
	require.True(t, ok)
	assert.Same(t, ec, got)

	_, ok = ExecContextFrom(context.Background())
	assert.False(t, ok)
}
