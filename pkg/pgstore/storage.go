package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/queueworks/jobq/pkg/queue"
)

// Compile-time interface checks.
var (
	_ queue.QueriesRepository    = (*Storage)(nil)
	_ queue.ManagerRepository    = (*Storage)(nil)
	_ queue.CancellationNotifier = (*Storage)(nil)
)

// Storage implements the queue repository interfaces on PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithLogger sets the logger used by the cancellation listener.
func WithLogger(logger *slog.Logger) StorageOption {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage creates a Storage over an established connection pool.
func NewStorage(pool *pgxpool.Pool, opts ...StorageOption) (*Storage, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	s := &Storage{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateJobs implements queue.QueriesRepository. The batch is inserted in one
// transaction so a failure persists nothing.
func (s *Storage) CreateJobs(ctx context.Context, specs []queue.JobSpec) ([]uuid.UUID, error) {
	if len(specs) == 0 {
		return nil, queue.ErrNothingToEnqueue
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uuid.UUID, len(specs))
	for i, spec := range specs {
		if spec.Entrypoint == "" {
			return nil, queue.ErrEntrypointEmpty
		}
		ids[i] = uuid.New()
		if _, err := tx.Exec(ctx,
			`INSERT INTO jobq_jobs (id, entrypoint, payload, priority, status)
			 VALUES ($1, $2, $3, $4, 'queued')`,
			ids[i].String(), spec.Entrypoint, spec.Payload, spec.Priority,
		); err != nil {
			return nil, fmt.Errorf("failed to insert job %q: %w", spec.Entrypoint, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue transaction: %w", err)
	}
	return ids, nil
}

// ClaimJobs implements queue.ManagerRepository. SKIP LOCKED makes the claim
// mutually exclusive across loop iterations and across dispatcher processes.
func (s *Storage) ClaimJobs(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE jobq_jobs
		 SET status = 'picked', picked_at = now()
		 WHERE id IN (
		     SELECT id FROM jobq_jobs
		     WHERE status = 'queued'
		     ORDER BY priority ASC, created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, entrypoint, payload, priority, status, cancel_requested,
		           created_at, picked_at, finished_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}
	return jobs, nil
}

// FinalizeJob implements queue.ManagerRepository. The guarded UPDATE makes
// the first terminal write win; the log row is appended in the same
// transaction so exactly one row exists per terminal transition.
func (s *Storage) FinalizeJob(ctx context.Context, jobID uuid.UUID, status queue.JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin finalize transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var entrypoint string
	var priority int
	err = tx.QueryRow(ctx,
		`UPDATE jobq_jobs
		 SET status = $2, finished_at = now()
		 WHERE id = $1 AND status IN ('queued', 'picked')
		 RETURNING entrypoint, priority`,
		jobID.String(), string(status),
	).Scan(&entrypoint, &priority)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal (or unknown): a later finalize is a no-op.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", jobID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO jobq_log (job_id, entrypoint, status, priority)
		 VALUES ($1, $2, $3, $4)`,
		jobID.String(), entrypoint, string(status), priority,
	); err != nil {
		return fmt.Errorf("failed to append log row for job %s: %w", jobID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit finalize transaction: %w", err)
	}
	return nil
}

// MarkCancelled implements queue.QueriesRepository. Unknown ids and terminal
// jobs are left untouched. Picked jobs are announced on the notification
// channel so running dispatchers deliver the request to live scopes.
func (s *Storage) MarkCancelled(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE jobq_jobs
		 SET cancel_requested = TRUE
		 WHERE id = ANY($1::uuid[]) AND status IN ('queued', 'picked')
		 RETURNING id, status`,
		idStrings(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to mark jobs as cancelled: %w", err)
	}

	var picked []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read cancelled job ids: %w", err)
		}
		if queue.JobStatus(status) == queue.StatusPicked {
			picked = append(picked, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read cancelled job ids: %w", err)
	}

	for _, id := range picked {
		if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, cancelChannel, id.String()); err != nil {
			return fmt.Errorf("failed to notify cancellation of job %s: %w", id, err)
		}
	}
	return nil
}

// CancelledAmong implements queue.ManagerRepository.
func (s *Storage) CancelledAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobq_jobs
		 WHERE id = ANY($1::uuid[]) AND cancel_requested AND status = 'picked'`,
		idStrings(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending cancellations: %w", err)
	}
	defer rows.Close()

	var cancelled []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to read pending cancellation id: %w", err)
		}
		cancelled = append(cancelled, id)
	}
	return cancelled, rows.Err()
}

// QueueSize implements queue.QueriesRepository.
func (s *Storage) QueueSize(ctx context.Context) ([]queue.QueueSizeEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM jobq_jobs GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue size: %w", err)
	}
	defer rows.Close()

	var entries []queue.QueueSizeEntry
	for rows.Next() {
		var entry queue.QueueSizeEntry
		if err := rows.Scan(&entry.Status, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to read queue size entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LogStatistics implements queue.QueriesRepository.
func (s *Storage) LogStatistics(ctx context.Context, tail int) ([]queue.StatisticsEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM (
		     SELECT status FROM jobq_log ORDER BY id DESC LIMIT $1
		 ) tail GROUP BY status ORDER BY status`,
		tail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query log statistics: %w", err)
	}
	defer rows.Close()

	var entries []queue.StatisticsEntry
	for rows.Next() {
		var entry queue.StatisticsEntry
		if err := rows.Scan(&entry.Status, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to read statistics entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanJob(rows pgx.Rows) (*queue.Job, error) {
	var job queue.Job
	if err := rows.Scan(
		&job.ID, &job.Entrypoint, &job.Payload, &job.Priority, &job.Status,
		&job.CancelRequested, &job.CreatedAt, &job.PickedAt, &job.FinishedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan job row: %w", err)
	}
	return &job, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
