package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpdateJobStatusParams is a partial update of a durable job row. Nil fields
// are left untouched; updated_at is always refreshed.
type UpdateJobStatusParams struct {
	ID                 uuid.UUID
	Status             JobStatus
	StatusMessage      *string
	SubStatusMessage   *string
	ErrorMessage       *string
	ProgressPercentage *int
	Response           *string
	Metadata           map[string]any
	RetryCount         *int
}

// JobStore is the contract the scheduling core needs from durable storage.
// The concrete table and retention policy are external concerns; the core
// only claims, updates, and queries rows.
type JobStore interface {
	// SaveJob persists a new job row in status queued.
	SaveJob(ctx context.Context, job *Job) error

	// ClaimQueuedJobs atomically selects up to limit jobs in status queued,
	// flips them to acknowledged_by_worker, and returns the full rows. The
	// claim must be a single conditional update so two concurrent claim
	// calls never return overlapping id sets.
	ClaimQueuedJobs(ctx context.Context, limit int) ([]*Job, error)

	// UpdateJobStatus applies a partial update, refreshing updated_at. It
	// must refuse to overwrite a terminal status, returning
	// ErrTerminalStatus.
	UpdateJobStatus(ctx context.Context, params UpdateJobStatusParams) error

	// ResetStaleAcknowledged resets rows stuck in acknowledged_by_worker
	// whose updated_at is older than the threshold back to queued,
	// returning the number affected.
	ResetStaleAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error)

	// GetJob returns the row for id, or ErrJobNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// ListActiveJobs returns all rows not yet in a terminal status.
	ListActiveJobs(ctx context.Context) ([]*Job, error)
}
