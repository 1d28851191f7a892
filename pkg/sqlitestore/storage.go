// Package sqlitestore implements the queue repository interfaces on a local
// SQLite database, for single-process deployments and CLI use.
//
// SQLite has no pub/sub, so the store offers no push-based cancellation feed;
// a running Manager picks up cancellation requests through its poll path.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/queueworks/jobq/pkg/queue"
)

// Compile-time interface checks.
var (
	_ queue.QueriesRepository = (*Storage)(nil)
	_ queue.ManagerRepository = (*Storage)(nil)
)

// Open opens (and creates if needed) the SQLite database at path and ensures
// the required tables exist.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// bootstrap creates tables/indexes if missing.
func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobq_jobs (
  id               TEXT PRIMARY KEY,
  entrypoint       TEXT NOT NULL,
  payload          BLOB,
  priority         INTEGER NOT NULL DEFAULT 0,
  status           TEXT NOT NULL DEFAULT 'queued',
  cancel_requested INTEGER NOT NULL DEFAULT 0,
  created_at       TEXT NOT NULL,
  picked_at        TEXT,
  finished_at      TEXT
);`,
		`CREATE TABLE IF NOT EXISTS jobq_log (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id     TEXT NOT NULL,
  entrypoint TEXT NOT NULL,
  status     TEXT NOT NULL,
  priority   INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS jobq_jobs_claim_idx ON jobq_jobs(status, priority, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite schema: %w", err)
		}
	}
	return nil
}

// Storage implements the queue repository interfaces over an open SQLite
// database.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a Storage over an open database handle.
func NewStorage(db *sql.DB) (*Storage, error) {
	if db == nil {
		return nil, queue.ErrRepositoryNil
	}
	return &Storage{db: db}, nil
}

// CreateJobs implements queue.QueriesRepository. The batch is inserted in one
// transaction so a failure persists nothing.
func (s *Storage) CreateJobs(ctx context.Context, specs []queue.JobSpec) ([]uuid.UUID, error) {
	if len(specs) == 0 {
		return nil, queue.ErrNothingToEnqueue
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	ids := make([]uuid.UUID, len(specs))
	for i, spec := range specs {
		if spec.Entrypoint == "" {
			return nil, queue.ErrEntrypointEmpty
		}
		ids[i] = uuid.New()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO jobq_jobs(id, entrypoint, payload, priority, status, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, ids[i].String(), spec.Entrypoint, spec.Payload, spec.Priority, string(queue.StatusQueued), now); err != nil {
			return nil, fmt.Errorf("enqueue job %q: %w", spec.Entrypoint, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue transaction: %w", err)
	}
	return ids, nil
}

// ClaimJobs implements queue.ManagerRepository. SQLite serializes writers, so
// the single UPDATE claims each job exactly once.
func (s *Storage) ClaimJobs(ctx context.Context, limit int) ([]*queue.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
WITH next AS (
  SELECT id
  FROM jobq_jobs
  WHERE status = ?
  ORDER BY priority ASC, created_at ASC, rowid ASC
  LIMIT ?
)
UPDATE jobq_jobs
SET status = ?, picked_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, entrypoint, payload, priority, status, cancel_requested, created_at, picked_at, finished_at;
`, string(queue.StatusQueued), limit, string(queue.StatusPicked), now)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
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
	return jobs, rows.Err()
}

// FinalizeJob implements queue.ManagerRepository. The status guard makes the
// first terminal write win; the log row is appended in the same transaction.
func (s *Storage) FinalizeJob(ctx context.Context, jobID uuid.UUID, status queue.JobStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var entrypoint string
	var priority int
	err = tx.QueryRowContext(ctx, `
UPDATE jobq_jobs
SET status = ?, finished_at = ?
WHERE id = ? AND status IN (?, ?)
RETURNING entrypoint, priority;
`, string(status), now, jobID.String(), string(queue.StatusQueued), string(queue.StatusPicked)).Scan(&entrypoint, &priority)
	if errors.Is(err, sql.ErrNoRows) {
		// Already terminal (or unknown): a later finalize is a no-op.
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", jobID, err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO jobq_log(job_id, entrypoint, status, priority, created_at)
VALUES(?, ?, ?, ?, ?);
`, jobID.String(), entrypoint, string(status), priority, now); err != nil {
		return fmt.Errorf("append log row for job %s: %w", jobID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize transaction: %w", err)
	}
	return nil
}

// MarkCancelled implements queue.QueriesRepository. Unknown ids and terminal
// jobs are left untouched.
func (s *Storage) MarkCancelled(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE jobq_jobs
SET cancel_requested = 1
WHERE id = ? AND status IN (?, ?);
`, id.String(), string(queue.StatusQueued), string(queue.StatusPicked)); err != nil {
			return fmt.Errorf("mark job %s as cancelled: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancel transaction: %w", err)
	}
	return nil
}

// CancelledAmong implements queue.ManagerRepository.
func (s *Storage) CancelledAmong(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	var cancelled []uuid.UUID
	for _, id := range ids {
		var flag int
		err := s.db.QueryRowContext(ctx, `
SELECT cancel_requested FROM jobq_jobs WHERE id = ? AND status = ?;
`, id.String(), string(queue.StatusPicked)).Scan(&flag)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query cancellation of job %s: %w", id, err)
		}
		if flag != 0 {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, nil
}

// QueueSize implements queue.QueriesRepository.
func (s *Storage) QueueSize(ctx context.Context) ([]queue.QueueSizeEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM jobq_jobs GROUP BY status ORDER BY status;
`)
	if err != nil {
		return nil, fmt.Errorf("query queue size: %w", err)
	}
	defer rows.Close()

	var entries []queue.QueueSizeEntry
	for rows.Next() {
		var entry queue.QueueSizeEntry
		if err := rows.Scan(&entry.Status, &entry.Count); err != nil {
			return nil, fmt.Errorf("read queue size entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LogStatistics implements queue.QueriesRepository.
func (s *Storage) LogStatistics(ctx context.Context, tail int) ([]queue.StatisticsEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT status, COUNT(*) FROM (
  SELECT status FROM jobq_log ORDER BY id DESC LIMIT ?
) tail GROUP BY status ORDER BY status;
`, tail)
	if err != nil {
		return nil, fmt.Errorf("query log statistics: %w", err)
	}
	defer rows.Close()

	var entries []queue.StatisticsEntry
	for rows.Next() {
		var entry queue.StatisticsEntry
		if err := rows.Scan(&entry.Status, &entry.Count); err != nil {
			return nil, fmt.Errorf("read statistics entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanJob(rows *sql.Rows) (*queue.Job, error) {
	var (
		job        queue.Job
		id         string
		status     string
		cancelFlag int
		createdS   string
		pickedS    sql.NullString
		finishedS  sql.NullString
	)
	if err := rows.Scan(&id, &job.Entrypoint, &job.Payload, &job.Priority, &status,
		&cancelFlag, &createdS, &pickedS, &finishedS); err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	job.ID = parsed
	job.Status = queue.JobStatus(status)
	job.CancelRequested = cancelFlag != 0
	if t, err := time.Parse(time.RFC3339Nano, createdS); err == nil {
		job.CreatedAt = t
	}
	if pickedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, pickedS.String); err == nil {
			job.PickedAt = &t
		}
	}
	if finishedS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedS.String); err == nil {
			job.FinishedAt = &t
		}
	}
	return &job, nil
}
