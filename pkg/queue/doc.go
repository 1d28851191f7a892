// Package queue provides the execution core of a durable, store-backed work
// queue: a dispatch loop that claims ready jobs from a persistent store, runs
// registered entrypoint handlers for them, and propagates cancellation
// requests into in-flight executions.
//
// The package is organised around three main components:
//
//   - Queries enqueues, cancels, and inspects jobs in the store
//   - Manager claims batches of queued jobs and dispatches them to handlers
//   - Registry binds entrypoint names to handlers and their execution kind
//
// Components interact with persistence only through small repository
// interfaces, so the queue can be backed by any storage engine that supports
// an atomic "claim a batch of queued jobs" operation. MemoryStorage implements
// every interface for tests and local development; see the pgstore and
// sqlitestore packages for durable backends.
//
// # Handler kinds
//
// Handlers are registered in one of two kinds:
//
//   - Concurrent handlers cooperate through contexts and channels. Any number
//     may be in flight at once; each runs on its own goroutine.
//   - Blocking handlers run to completion without observing a context. They
//     execute on a fixed-size worker pool so a stalled handler cannot consume
//     unbounded resources; submissions beyond pool capacity queue.
//
// # Cancellation
//
// Every claimed job gets an ExecutionContext carrying a CancelScope. The
// scope offers two modes:
//
//   - The passive flag: CancelCalled reports whether a cancellation request
//     was recorded for the job. The handler decides what, if anything, to do
//     about it. The job's terminal status is "canceled" regardless, because
//     cancellation marking is authoritative for bookkeeping.
//   - The guarded region: Scoped runs a closure with a context that is
//     cancelled the moment a cancellation request lands, so context-aware
//     waits inside the region return early and the rest of the region never
//     executes. Only concurrent handlers may enter a guarded region; blocking
//     handlers have no safe interruption point and Scoped refuses them with
//     ErrScopedCancellationUnsupported.
//
// # Usage
//
//	storage := queue.NewMemoryStorage()
//	defer storage.Close()
//
//	m, _ := queue.NewManager(storage)
//	_ = m.Register("send_email", queue.HandlerFunc(func(ctx context.Context, job *queue.Job) error {
//		// deliver the email described by job.Payload
//		return nil
//	}))
//
//	go m.Run(ctx, 30*time.Second)
//
//	q, _ := queue.NewQueries(storage)
//	ids, _ := q.Enqueue(ctx, []string{"send_email"}, [][]byte{payload}, []int{0})
//	_ = q.MarkJobAsCancelled(ctx, ids...)
package queue
