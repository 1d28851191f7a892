package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// statusOrder fixes the ordering of aggregate results so snapshots are
// deterministic across queries.
var statusOrder = []JobStatus{StatusQueued, StatusPicked, StatusSuccessful, StatusFailed, StatusCanceled}

type logRow struct {
	jobID      uuid.UUID
	entrypoint string
	status     JobStatus
	createdAt  time.Time
}

type cancellationSub struct {
	ctx context.Context
	fn  func(jobID uuid.UUID)
}

// MemoryStorage implements all queue repository interfaces for testing and
// local development, including the push-based cancellation feed.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job

	// Status index for efficient claim and size queries
	byStatus map[JobStatus][]uuid.UUID

	// Append-only terminal-transition log, one row per finalize
	log []logRow

	subs []cancellationSub
}

// NewMemoryStorage creates a new in-memory storage implementation.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:     make(map[uuid.UUID]*Job),
		byStatus: make(map[JobStatus][]uuid.UUID),
	}
}

// Close releases the storage. Present for symmetry with the durable stores.
func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.subs = nil
	return nil
}

// CreateJobs implements QueriesRepository. The batch is atomic: every job is
// validated before any is stored.
func (ms *MemoryStorage) CreateJobs(ctx context.Context, specs []JobSpec) ([]uuid.UUID, error) {
	if len(specs) == 0 {
		return nil, ErrNothingToEnqueue
	}
	for _, spec := range specs {
		if spec.Entrypoint == "" {
			return nil, ErrEntrypointEmpty
		}
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	ids := make([]uuid.UUID, len(specs))
	for i, spec := range specs {
		job := &Job{
			ID:         uuid.New(),
			Entrypoint: spec.Entrypoint,
			Payload:    spec.Payload,
			Priority:   spec.Priority,
			Status:     StatusQueued,
			CreatedAt:  now,
		}
		ms.jobs[job.ID] = job
		ms.byStatus[StatusQueued] = append(ms.byStatus[StatusQueued], job.ID)
		ids[i] = job.ID
	}
	return ids, nil
}

// ClaimJobs implements ManagerRepository. Queued jobs are served lowest
// priority value first, earliest enqueue time breaking ties.
func (ms *MemoryStorage) ClaimJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	queued := slices.Clone(ms.byStatus[StatusQueued])
	slices.SortStableFunc(queued, func(a, b uuid.UUID) int {
		ja, jb := ms.jobs[a], ms.jobs[b]
		if ja.Priority != jb.Priority {
			return ja.Priority - jb.Priority
		}
		return ja.CreatedAt.Compare(jb.CreatedAt)
	})
	if len(queued) > limit {
		queued = queued[:limit]
	}

	now := time.Now()
	claimed := make([]*Job, 0, len(queued))
	for _, id := range queued {
		job := ms.jobs[id]
		job.Status = StatusPicked
		pickedAt := now
		job.PickedAt = &pickedAt

		ms.removeFromStatusIndex(id, StatusQueued)
		ms.byStatus[StatusPicked] = append(ms.byStatus[StatusPicked], id)

		// Return a copy to prevent external modifications
		jobCopy := *job
		claimed = append(claimed, &jobCopy)
	}
	return claimed, nil
}

// FinalizeJob implements ManagerRepository. The first terminal write wins;
// finalizing an already-terminal job changes nothing and appends no second
// log row.
func (ms *MemoryStorage) FinalizeJob(ctx context.Context, jobID uuid.UUID, status JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}

	now := time.Now()
	prev := job.Status
	job.Status = status
	job.FinishedAt = &now

	ms.removeFromStatusIndex(jobID, prev)
	ms.byStatus[status] = append(ms.byStatus[status], jobID)

	ms.log = append(ms.log, logRow{
		jobID:      jobID,
		entrypoint: job.Entrypoint,
		status:     status,
		createdAt:  now,
	})
	return nil
}

// MarkCancelled implements QueriesRepository. Unknown ids are ignored and
// terminal jobs are left untouched. Live subscribers are notified before the
// call returns, so an in-process Manager observes the request immediately.
func (ms *MemoryStorage) MarkCancelled(ctx context.Context, ids []uuid.UUID) error {
	ms.mu.Lock()
	marked := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		job, exists := ms.jobs[id]
		if !exists || job.Status.Terminal() {
			continue
		}
		job.CancelRequested = true
		marked = append(marked, id)
	}
	subs := slices.Clone(ms.subs)
	ms.mu.Unlock()

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		for _, id := range marked {
			sub.fn(id)
		}
	}
	return nil
}

// CancelledAmong implements ManagerRepository.
func (ms *MemoryStorage) CancelledAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var cancelled []uuid.UUID
	for _, id := range ids {
		job, exists := ms.jobs[id]
		if exists && job.CancelRequested && !job.Status.Terminal() {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, nil
}

// SubscribeCancellations implements CancellationNotifier. fn is invoked
// synchronously from MarkCancelled until ctx is done.
func (ms *MemoryStorage) SubscribeCancellations(ctx context.Context, fn func(jobID uuid.UUID)) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.subs = append(ms.subs, cancellationSub{ctx: ctx, fn: fn})
	return nil
}

// QueueSize implements QueriesRepository.
func (ms *MemoryStorage) QueueSize(ctx context.Context) ([]QueueSizeEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entries := make([]QueueSizeEntry, 0, len(statusOrder))
	for _, status := range statusOrder {
		if n := len(ms.byStatus[status]); n > 0 {
			entries = append(entries, QueueSizeEntry{Status: status, Count: int64(n)})
		}
	}
	return entries, nil
}

// LogStatistics implements QueriesRepository.
func (ms *MemoryStorage) LogStatistics(ctx context.Context, tail int) ([]StatisticsEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	rows := ms.log
	if tail >= 0 && len(rows) > tail {
		rows = rows[len(rows)-tail:]
	}

	counts := make(map[JobStatus]int64, len(statusOrder))
	for _, row := range rows {
		counts[row.status]++
	}

	entries := make([]StatisticsEntry, 0, len(counts))
	for _, status := range statusOrder {
		if counts[status] > 0 {
			entries = append(entries, StatisticsEntry{Status: status, Count: counts[status]})
		}
	}
	return entries, nil
}

// GetJob returns a copy of the stored job, mainly for tests and inspection.
func (ms *MemoryStorage) GetJob(jobID uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	jobCopy := *job
	return &jobCopy, nil
}

func (ms *MemoryStorage) removeFromStatusIndex(jobID uuid.UUID, status JobStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == jobID
	})
}
