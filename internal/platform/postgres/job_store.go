// Package postgres implements the durable job store over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
	"github.com/promptdeck/promptdeck-api/internal/platform/logger"
	"github.com/promptdeck/promptdeck-api/internal/store"
)

// jobColumns is the column list every row-returning query uses, in the
// order scanJob expects.
const jobColumns = `id, type, payload, priority, status, status_message,
	sub_status_message, progress_percentage, created_at, updated_at,
	response, error_message, metadata, retry_count`

// terminalStatuses guards every mutating query; a row in one of these
// states is immutable.
const terminalStatuses = `('completed', 'completed_by_tag', 'failed', 'canceled')`

// PostgresJobStore implements the jobs.JobStore interface using PostgreSQL.
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{
		db: db,
	}
}

// SaveJob persists a new job row in status queued.
func (s *PostgresJobStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	log := logger.FromContext(ctx)

	metadata, err := marshalMetadata(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	query := `
		INSERT INTO background_jobs (id, type, payload, priority, status, created_at, updated_at, metadata, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		[]byte(job.Payload),
		job.Priority,
		job.Status,
		now,
		now,
		metadata,
		job.RetryCount,
	)
	if err != nil {
		log.Error("failed to save job",
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err)
		return fmt.Errorf("failed to save job to database: %w", err)
	}

	return nil
}

// ClaimQueuedJobs atomically flips up to limit queued rows to
// acknowledged_by_worker and returns them. SKIP LOCKED keeps concurrent
// claimers from blocking on or returning each other's rows.
func (s *PostgresJobStore) ClaimQueuedJobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	log := logger.FromContext(ctx)

	if limit <= 0 {
		return nil, nil
	}

	query := `
		WITH claimable AS (
			SELECT id
			FROM background_jobs
			WHERE status = 'queued'
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE background_jobs b
		SET status = 'acknowledged_by_worker', updated_at = $2
		FROM claimable c
		WHERE b.id = c.id
		RETURNING b.id, b.type, b.payload, b.priority, b.status, b.status_message,
			b.sub_status_message, b.progress_percentage, b.created_at, b.updated_at,
			b.response, b.error_message, b.metadata, b.retry_count
	`

	rows, err := s.db.QueryContext(ctx, query, limit, time.Now().UTC())
	if err != nil {
		log.Error("failed to claim queued jobs", "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to claim queued jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	claimed, err := scanJobs(rows)
	if err != nil {
		log.Error("failed to read claimed jobs", "error", err)
		return nil, err
	}

	return claimed, nil
}

// UpdateJobStatus applies a partial update to a row, refreshing updated_at.
// Terminal rows are never touched; attempting to update one returns
// jobs.ErrTerminalStatus.
func (s *PostgresJobStore) UpdateJobStatus(ctx context.Context, params jobs.UpdateJobStatusParams) error {
	log := logger.FromContext(ctx)

	metadata, err := marshalMetadata(params.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}

	query := `
		UPDATE background_jobs
		SET status = $2,
			status_message = COALESCE($3, status_message),
			sub_status_message = COALESCE($4, sub_status_message),
			error_message = COALESCE($5, error_message),
			progress_percentage = COALESCE($6, progress_percentage),
			response = COALESCE($7, response),
			metadata = CASE WHEN $8::jsonb IS NULL THEN metadata ELSE COALESCE(metadata, '{}'::jsonb) || $8::jsonb END,
			retry_count = COALESCE($9, retry_count),
			updated_at = $10
		WHERE id = $1 AND status NOT IN ` + terminalStatuses

	result, err := s.db.ExecContext(ctx, query,
		params.ID,
		params.Status,
		params.StatusMessage,
		params.SubStatusMessage,
		params.ErrorMessage,
		params.ProgressPercentage,
		params.Response,
		metadata,
		params.RetryCount,
		time.Now().UTC(),
	)
	if err != nil {
		log.Error("failed to update job status",
			"job_id", params.ID,
			"status", params.Status,
			"error", err)
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// The guarded update matched nothing. Distinguish a missing row from a
	// terminal one.
	var status jobs.JobStatus
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM background_jobs WHERE id = $1`, params.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job status: %w", err)
	}
	// The row exists and the guard excluded it, so it was terminal when the
	// update ran.
	return jobs.ErrTerminalStatus
}

// ResetStaleAcknowledged resets rows stuck in acknowledged_by_worker older
// than the threshold back to queued, returning the number affected.
func (s *PostgresJobStore) ResetStaleAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE background_jobs
		SET status = 'queued', updated_at = $1
		WHERE status = 'acknowledged_by_worker' AND updated_at < $2
	`

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query, now, now.Add(-olderThan))
	if err != nil {
		log.Error("failed to reset stale acknowledged jobs", "error", err)
		return 0, fmt.Errorf("failed to reset stale acknowledged jobs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// GetJob returns the row for id, or jobs.ErrJobNotFound.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM background_jobs WHERE id = $1`

	row := s.db.QueryRowContext(ctx, query, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobs.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListActiveJobs returns all rows not yet in a terminal status, oldest
// first.
func (s *PostgresJobStore) ListActiveJobs(ctx context.Context) ([]*jobs.Job, error) {
	log := logger.FromContext(ctx)

	query := `
		SELECT ` + jobColumns + `
		FROM background_jobs
		WHERE status NOT IN ` + terminalStatuses + `
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		log.Error("failed to list active jobs", "error", err)
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job                jobs.Job
		payload            []byte
		statusMessage      sql.NullString
		subStatusMessage   sql.NullString
		progressPercentage sql.NullInt32
		response           sql.NullString
		errorMessage       sql.NullString
		metadata           []byte
	)

	err := row.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Priority,
		&job.Status,
		&statusMessage,
		&subStatusMessage,
		&progressPercentage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&response,
		&errorMessage,
		&metadata,
		&job.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	job.StatusMessage = statusMessage.String
	job.SubStatusMessage = subStatusMessage.String
	if progressPercentage.Valid {
		pct := int(progressPercentage.Int32)
		job.ProgressPercentage = &pct
	}
	job.Response = response.String
	job.ErrorMessage = errorMessage.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*jobs.Job, error) {
	var result []*jobs.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return result, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	return json.Marshal(metadata)
}

// Ensure PostgresJobStore implements jobs.JobStore.
var _ jobs.JobStore = (*PostgresJobStore)(nil)
