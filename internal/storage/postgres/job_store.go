package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/review-harvester/internal/job"
)

const defaultJobTable = "harvest_jobs"

// JobStore implements job.Store using Postgres.
type JobStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewJobStoreWithPool constructs a JobStore on an existing pool.
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, defaultJobTable)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: p, table: name, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the job table when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id             TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL,
	status         TEXT NOT NULL,
	submitted_at   TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ,
	error_text     TEXT NOT NULL DEFAULT '',
	stop_requested BOOLEAN NOT NULL DEFAULT FALSE,
	counters       JSONB NOT NULL DEFAULT '{}'
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create job table: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, j job.Job) error {
	counters, err := json.Marshal(j.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, subject_id, status, submitted_at, error_text, stop_requested, counters)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, j.ID, j.SubjectID, string(j.Status), j.Submitted, j.ErrorText, j.StopRequested, counters)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobExists
	}
	return nil
}

// MarkStarted sets started_at once.
func (s *JobStore) MarkStarted(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET started_at = COALESCE(started_at, $1) WHERE id = $2`, s.table)
	return s.exec(ctx, "mark job started", query, s.now(), jobID)
}

// Finish stores the terminal status and counters of a job.
func (s *JobStore) Finish(ctx context.Context, jobID string, status job.Status, errText string, counters job.Counters) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error_text = $2, counters = $3, finished_at = COALESCE(finished_at, $4)
WHERE id = $5`, s.table)
	return s.exec(ctx, "finish job", query, string(status), errText, payload, s.now(), jobID)
}

// MarkStopRequested flags that a stop was requested for the job.
func (s *JobStore) MarkStopRequested(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET stop_requested = TRUE WHERE id = $1`, s.table)
	return s.exec(ctx, "mark stop requested", query, jobID)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (job.Job, error) {
	query := fmt.Sprintf(`
SELECT id, subject_id, status, submitted_at, started_at, finished_at, error_text, stop_requested, counters
FROM %s
WHERE id = $1`, s.table)
	var (
		j        job.Job
		status   string
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&j.ID,
		&j.SubjectID,
		&status,
		&j.Submitted,
		&j.Started,
		&j.Finished,
		&j.ErrorText,
		&j.StopRequested,
		&counters,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, fmt.Errorf("get job: %w", err)
	}
	j.Status = job.Status(status)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &j.Counters); err != nil {
			return job.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return j, nil
}

func (s *JobStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}
