package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the persisted job queue, the single source of truth for job state.
// All mutations are narrow atomic field updates.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(os.Getenv("DATABASE_URL"))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}

	// Allow tuning the maximum connections via environment variable to avoid exhausting Postgres.
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if n, errConv := strconv.Atoi(v); errConv == nil && n > 0 {
			cfg.MaxConns = int32(n)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the necessary tables and types.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TYPE grading_job_status AS ENUM ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED');
    CREATE TABLE IF NOT EXISTS grading_jobs (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        owner_id TEXT,
        payload JSONB NOT NULL,
        status grading_job_status NOT NULL DEFAULT 'PENDING',
        priority INTEGER NOT NULL DEFAULT 5,
        retry_count INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL DEFAULT 2,
        result JSONB,
        last_error TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        started_at TIMESTAMPTZ,
        completed_at TIMESTAMPTZ,
        processing_ms BIGINT
    );
    CREATE INDEX IF NOT EXISTS idx_grading_jobs_pending
        ON grading_jobs (priority DESC, created_at ASC) WHERE status = 'PENDING';

    CREATE TABLE IF NOT EXISTS grading_job_failures (
        id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
        job_id UUID NOT NULL REFERENCES grading_jobs(id) ON DELETE CASCADE,
        attempt INTEGER NOT NULL,
        error_type TEXT NOT NULL,
        message TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    `
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const jobColumns = `id, owner_id, payload, status, priority, retry_count, max_retries,
        result, last_error, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var ownerID, lastError sql.NullString
	var result []byte
	err := row.Scan(
		&j.ID, &ownerID, &j.Payload, &j.Status, &j.Priority, &j.RetryCount,
		&j.MaxRetries, &result, &lastError, &j.CreatedAt, &j.UpdatedAt,
		&j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.OwnerID = ownerID.String
	j.LastError = lastError.String
	j.Result = result
	return j, nil
}

func (s *Store) CreateJob(ctx context.Context, req *SubmissionRequest) (string, error) {
	var jobID string
	query := `INSERT INTO grading_jobs (owner_id, payload, priority, max_retries)
              VALUES (NULLIF($1, ''), $2, $3, $4) RETURNING id`
	err := s.pool.QueryRow(ctx, query, req.OwnerID, req.Payload, req.Priority, req.MaxRetries).Scan(&jobID)
	return jobID, err
}

// GetJob returns (nil, nil) when no job exists: not-found is a defined,
// non-error outcome of a status query.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM grading_jobs WHERE id = $1`
	j, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// FetchPending returns up to limit pending jobs, highest priority first and
// FIFO within equal priority.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM grading_jobs
              WHERE status = 'PENDING'
              ORDER BY priority DESC, created_at ASC
              LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// Claim atomically marks a pending job PROCESSING with a start timestamp.
// Returns (nil, nil) if the job was already claimed or cancelled.
func (s *Store) Claim(ctx context.Context, jobID string) (*Job, error) {
	query := `
        UPDATE grading_jobs
        SET status = 'PROCESSING', started_at = NOW(), updated_at = NOW()
        WHERE id = $1 AND status = 'PENDING'
        RETURNING ` + jobColumns
	j, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *Store) MarkCompleted(ctx context.Context, jobID string, result json.RawMessage, took time.Duration) error {
	query := `UPDATE grading_jobs
              SET status = 'COMPLETED', result = $1, processing_ms = $2,
                  completed_at = NOW(), updated_at = NOW()
              WHERE id = $3`
	_, err := s.pool.Exec(ctx, query, result, took.Milliseconds(), jobID)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	query := `UPDATE grading_jobs
              SET status = 'FAILED', last_error = $1,
                  completed_at = NOW(), updated_at = NOW()
              WHERE id = $2`
	_, err := s.pool.Exec(ctx, query, errMsg, jobID)
	return err
}

// ReturnForRetry puts a failed job back in the queue with its retry count
// incremented; partial progress in result is preserved.
func (s *Store) ReturnForRetry(ctx context.Context, jobID, errMsg string) error {
	query := `UPDATE grading_jobs
              SET status = 'PENDING', last_error = $1,
                  retry_count = retry_count + 1, updated_at = NOW()
              WHERE id = $2`
	_, err := s.pool.Exec(ctx, query, errMsg, jobID)
	return err
}

// RecordFailure writes a per-attempt failure record, separate from the job row.
func (s *Store) RecordFailure(ctx context.Context, jobID string, attempt int, errType, message string) error {
	query := `INSERT INTO grading_job_failures (job_id, attempt, error_type, message)
              VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, query, jobID, attempt, errType, message)
	return err
}

// UpdateProgress persists partial results mid-execution so a crash preserves
// completed sub-items. Status is untouched.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress json.RawMessage) error {
	query := `UPDATE grading_jobs SET result = $1, updated_at = NOW() WHERE id = $2`
	_, err := s.pool.Exec(ctx, query, progress, jobID)
	return err
}

// Cancel marks a pending job failed with a cancellation message. Jobs already
// processing cannot be cancelled; returns false when nothing was cancelled.
func (s *Store) Cancel(ctx context.Context, jobID string) (bool, error) {
	query := `UPDATE grading_jobs
              SET status = 'FAILED', last_error = 'cancelled by owner',
                  completed_at = NOW(), updated_at = NOW()
              WHERE id = $1 AND status = 'PENDING'`
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Stats returns job counts by status for operational dashboards.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM grading_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[Status]int{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
