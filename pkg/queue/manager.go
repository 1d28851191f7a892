package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ManagerRepository defines the interface for the dispatch loop.
type ManagerRepository interface {
	// ClaimJobs atomically claims up to limit queued jobs, transitioning them
	// to picked as part of the claim. The atomicity of this operation is the
	// sole guard against two loop iterations, or two dispatcher processes,
	// claiming the same job.
	ClaimJobs(ctx context.Context, limit int) ([]*Job, error)

	// FinalizeJob writes the job's terminal status and appends exactly one
	// log row, idempotently: once a job is terminal, later attempts are
	// no-ops and the first writer wins.
	FinalizeJob(ctx context.Context, jobID uuid.UUID, status JobStatus) error

	// CancelledAmong returns the subset of ids with a pending cancellation
	// request that has not yet reached a terminal status.
	CancelledAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// CancellationNotifier is an optional repository capability: stores that can
// push cancellation requests implement it so a running Manager learns about
// them without waiting for the next claim cycle. fn must be safe for
// concurrent use; delivery is at-least-once and applying a cancellation twice
// is a no-op.
type CancellationNotifier interface {
	SubscribeCancellations(ctx context.Context, fn func(jobID uuid.UUID)) error
}

// MetricsRecorder receives job lifecycle events from the Manager. See the
// metrics package for a Prometheus-backed implementation.
type MetricsRecorder interface {
	JobsClaimed(n int)
	JobStarted()
	JobFinished()
	JobFinalized(status JobStatus)
}

// Manager drives the claim → execute → finalize cycle until told to stop.
type Manager struct {
	repo     ManagerRepository
	registry *Registry

	mu       sync.Mutex
	contexts map[uuid.UUID]*ExecutionContext

	sem chan struct{}
	wg  sync.WaitGroup

	batchSize  int
	jobTimeout time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder

	alive   atomic.Bool
	running atomic.Bool
	stop    chan struct{}

	failOnce sync.Once
	runErr   error
}

// NewManager creates a dispatch loop over the given repository.
func NewManager(repo ManagerRepository, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &managerOptions{
		batchSize:      10,
		workerPoolSize: 4,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Manager{
		repo:       repo,
		registry:   NewRegistry(),
		contexts:   make(map[uuid.UUID]*ExecutionContext),
		sem:        make(chan struct{}, options.workerPoolSize),
		batchSize:  options.batchSize,
		jobTimeout: options.jobTimeout,
		logger:     options.logger,
		metrics:    options.metrics,
		stop:       make(chan struct{}),
	}, nil
}

// Register binds a concurrent handler to an entrypoint name. Duplicate names
// are refused with ErrDuplicateEntrypoint.
func (m *Manager) Register(name string, h Handler) error {
	return m.registry.Register(name, h)
}

// RegisterBlocking binds a blocking handler to an entrypoint name.
func (m *Manager) RegisterBlocking(name string, h Handler) error {
	return m.registry.RegisterBlocking(name, h)
}

// Context returns the live ExecutionContext of a currently-dispatched job.
// The Manager owns the context; the lookup never extends its lifetime beyond
// the job's execution.
func (m *Manager) Context(jobID uuid.UUID) (*ExecutionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ec, ok := m.contexts[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotRunning, jobID)
	}
	return ec, nil
}

// Alive reports whether the loop is still accepting new claims.
func (m *Manager) Alive() bool {
	return m.alive.Load()
}

// Shutdown requests a graceful stop: the loop stops issuing new claims but
// already-dispatched executions run to their own terminal status before Run
// returns. Safe to call multiple times and from any goroutine.
func (m *Manager) Shutdown() {
	m.alive.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// Run drives the dispatch loop until Shutdown is called or ctx is done.
//
// Each cycle claims a bounded batch of queued jobs and dispatches every job
// to its handler. When a claim comes back empty the loop idles for up to
// dequeueTimeout before retrying; a dequeueTimeout of zero means "retry
// immediately", a busy-poll mode for low-latency tests.
//
// Per-job errors never escape Run: unknown entrypoints and handler failures
// finalize the job as failed and the loop continues. Only store-connectivity
// failures abort the loop, and even then Run returns only after every
// execution dispatched in its lifetime has reached a terminal status.
//
// A stopped Manager can be started again: each Run cycle pairs with the
// Shutdown that ends it.
func (m *Manager) Run(ctx context.Context, dequeueTimeout time.Duration) error {
	if m.registry.Len() == 0 {
		return ErrNoEntrypoints
	}
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	// Claims and the notifier subscription live on a context owned by this
	// run, so they end when Run returns rather than when the caller's
	// context does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()
	m.failOnce = sync.Once{}
	m.runErr = nil

	m.alive.Store(true)
	m.subscribeCancellations(ctx)

	m.logger.Info("dispatch loop started",
		slog.Int("batch_size", m.batchSize),
		slog.Int("worker_pool_size", cap(m.sem)),
		slog.Duration("dequeue_timeout", dequeueTimeout))

	for m.alive.Load() {
		select {
		case <-ctx.Done():
			m.Shutdown()
			continue
		default:
		}

		jobs, err := m.repo.ClaimJobs(ctx, m.batchSize)
		if err != nil {
			m.fail(fmt.Errorf("failed to claim jobs: %w", err))
			break
		}
		if m.metrics != nil && len(jobs) > 0 {
			m.metrics.JobsClaimed(len(jobs))
		}

		for _, job := range jobs {
			m.dispatch(job)
		}
		m.applyPendingCancellations(ctx)

		if len(jobs) == 0 && dequeueTimeout > 0 {
			m.idle(ctx, stop, dequeueTimeout)
		}
	}

	m.logger.Info("dispatch loop stopping, waiting for in-flight jobs")
	m.wg.Wait()
	m.logger.Info("dispatch loop stopped")

	return m.runErr
}

// fail records the first loop-fatal error and requests a stop.
func (m *Manager) fail(err error) {
	m.failOnce.Do(func() { m.runErr = err })
	m.Shutdown()
}

// idle suspends between empty claims, waking early on shutdown.
func (m *Manager) idle(ctx context.Context, stop <-chan struct{}, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
	case <-ctx.Done():
	}
}

// dispatch routes one claimed job to its execution regime.
func (m *Manager) dispatch(job *Job) {
	// A job cancelled before it was claimed is finalized immediately. The
	// claim still produced a picked transition, keeping history uniform with
	// jobs cancelled mid-flight.
	if job.CancelRequested {
		m.logger.Debug("skipping execution of cancelled job",
			slog.String("job_id", job.ID.String()),
			slog.String("entrypoint", job.Entrypoint))
		m.finalize(job, StatusCanceled)
		return
	}

	handler, kind, err := m.registry.Resolve(job.Entrypoint)
	if err != nil {
		m.logger.Error("no handler registered for entrypoint",
			slog.String("job_id", job.ID.String()),
			slog.String("entrypoint", job.Entrypoint))
		m.finalize(job, StatusFailed)
		return
	}

	ec := newExecutionContext(job.ID, kind)
	m.track(ec)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if kind == KindBlocking {
			// Bounded pool: wait for a free worker slot. Submissions beyond
			// capacity queue here instead of stalling the claim loop.
			m.sem <- struct{}{}
			defer func() { <-m.sem }()
		}

		m.execute(handler, job, ec)
	}()
}

// execute runs one handler invocation and persists its outcome.
func (m *Manager) execute(handler Handler, job *Job, ec *ExecutionContext) {
	defer m.untrack(job.ID)

	if m.metrics != nil {
		m.metrics.JobStarted()
		defer m.metrics.JobFinished()
	}

	start := time.Now()
	err := m.invoke(handler, job, ec)
	duration := time.Since(start)

	// Cancellation marking is authoritative for status bookkeeping,
	// independent of what the handler decided to do with the flag.
	status := StatusSuccessful
	switch {
	case ec.Cancellation.CancelCalled():
		status = StatusCanceled
	case err != nil:
		status = StatusFailed
	}

	switch status {
	case StatusFailed:
		m.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("entrypoint", job.Entrypoint),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
	case StatusCanceled:
		m.logger.Info("job canceled",
			slog.String("job_id", job.ID.String()),
			slog.String("entrypoint", job.Entrypoint),
			slog.Duration("duration", duration))
	default:
		m.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("entrypoint", job.Entrypoint),
			slog.Duration("duration", duration))
	}

	m.finalize(job, status)
}

// invoke calls the handler with panic recovery at the dispatch boundary so
// one job's failure never aborts the batch or the loop.
func (m *Manager) invoke(handler Handler, job *Job, ec *ExecutionContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler %q: %v", job.Entrypoint, r)
		}
	}()

	// Handler contexts are detached from the loop lifecycle so a graceful
	// shutdown lets in-flight jobs finish on their own terms.
	ctx := context.Background()
	if m.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.jobTimeout)
		defer cancel()
	}

	return handler.Handle(withExecContext(ctx, ec), job)
}

// finalize persists the terminal status. The write uses a fresh context, not
// the loop's: an outcome must be recorded even while Run is shutting down.
func (m *Manager) finalize(job *Job, status JobStatus) {
	if err := m.repo.FinalizeJob(context.Background(), job.ID, status); err != nil {
		m.logger.Error("failed to finalize job",
			slog.String("job_id", job.ID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
		m.fail(fmt.Errorf("failed to finalize job %s: %w", job.ID, err))
		return
	}
	if m.metrics != nil {
		m.metrics.JobFinalized(status)
	}
}

func (m *Manager) track(ec *ExecutionContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[ec.JobID] = ec
}

func (m *Manager) untrack(jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, jobID)
}

// applyCancellation delivers a cancellation request to the job's live scope,
// if one exists. Requests for unknown or already-finished jobs are no-ops.
func (m *Manager) applyCancellation(jobID uuid.UUID) {
	m.mu.Lock()
	ec, ok := m.contexts[jobID]
	m.mu.Unlock()

	if ok {
		ec.Cancellation.cancel()
	}
}

// applyPendingCancellations is the catch-up poll for stores without a push
// feed: every claim cycle it asks the store which live jobs have a pending
// cancellation request and delivers them.
func (m *Manager) applyPendingCancellations(ctx context.Context) {
	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.contexts))
	for id := range m.contexts {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	cancelled, err := m.repo.CancelledAmong(ctx, ids)
	if err != nil {
		m.logger.Warn("failed to poll pending cancellations",
			slog.String("error", err.Error()))
		return
	}
	for _, id := range cancelled {
		m.applyCancellation(id)
	}
}

func (m *Manager) subscribeCancellations(ctx context.Context) {
	notifier, ok := m.repo.(CancellationNotifier)
	if !ok {
		return
	}
	if err := notifier.SubscribeCancellations(ctx, m.applyCancellation); err != nil {
		m.logger.Warn("cancellation feed unavailable, relying on polling",
			slog.String("error", err.Error()))
	}
}
