package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// QueriesRepository defines the interface for enqueueing and inspecting jobs.
type QueriesRepository interface {
	// CreateJobs persists a batch of jobs atomically: either every job is
	// stored as queued, or none are. Returned ids preserve input order.
	CreateJobs(ctx context.Context, specs []JobSpec) ([]uuid.UUID, error)

	// MarkCancelled records a cancellation request for each given job,
	// regardless of its current status. Unknown ids are ignored and requests
	// against already-terminal jobs are no-ops.
	MarkCancelled(ctx context.Context, ids []uuid.UUID) error

	// QueueSize returns current snapshot counts grouped by status.
	QueueSize(ctx context.Context) ([]QueueSizeEntry, error)

	// LogStatistics aggregates the most recent tail terminal-transition log
	// rows by status.
	LogStatistics(ctx context.Context, tail int) ([]StatisticsEntry, error)
}

// Queries is the thin pass-through callers use to enqueue, cancel, and
// inspect the store. It is consumed by, but logically separate from, the
// Manager's dispatch loop.
type Queries struct {
	repo QueriesRepository
}

// NewQueries creates a Queries facade over the given repository.
func NewQueries(repo QueriesRepository) (*Queries, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	return &Queries{repo: repo}, nil
}

// Enqueue submits one job per element of the input sequences, which must all
// have equal length. The length check happens before any job is persisted, so
// a mismatch never results in a partial enqueue. Returned ids preserve input
// order.
func (q *Queries) Enqueue(ctx context.Context, entrypoints []string, payloads [][]byte, priorities []int) ([]uuid.UUID, error) {
	if len(entrypoints) != len(payloads) || len(entrypoints) != len(priorities) {
		return nil, ErrLengthMismatch
	}
	if len(entrypoints) == 0 {
		return nil, ErrNothingToEnqueue
	}

	specs := make([]JobSpec, len(entrypoints))
	for i, name := range entrypoints {
		if name == "" {
			return nil, ErrEntrypointEmpty
		}
		specs[i] = JobSpec{
			Entrypoint: name,
			Payload:    payloads[i],
			Priority:   priorities[i],
		}
	}

	ids, err := q.repo.CreateJobs(ctx, specs)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs: %w", err)
	}
	return ids, nil
}

// MarkJobAsCancelled requests cancellation for the given jobs regardless of
// their current status. Unknown ids are ignored, not errors.
func (q *Queries) MarkJobAsCancelled(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.repo.MarkCancelled(ctx, ids); err != nil {
		return fmt.Errorf("failed to mark jobs as cancelled: %w", err)
	}
	return nil
}

// QueueSize returns current job counts grouped by status.
func (q *Queries) QueueSize(ctx context.Context) ([]QueueSizeEntry, error) {
	return q.repo.QueueSize(ctx)
}

// LogStatistics returns the most recent tail terminal-transition log rows
// aggregated by status. tail must not be negative; the check lives here so
// every store backend sees the same contract.
func (q *Queries) LogStatistics(ctx context.Context, tail int) ([]StatisticsEntry, error) {
	if tail < 0 {
		return nil, ErrNegativeTail
	}
	return q.repo.LogStatistics(ctx, tail)
}
