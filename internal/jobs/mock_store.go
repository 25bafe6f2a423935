package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryJobStore is an in-memory JobStore used by tests. It honors the same
// contract as the Postgres store: atomic claims, terminal-status protection,
// and stale-lease resets.
type MemoryJobStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Job
	// order preserves insertion order for FIFO tie-breaking among equal
	// priorities during claims.
	order []uuid.UUID
}

// NewMemoryJobStore creates an empty in-memory store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		rows: make(map[uuid.UUID]*Job),
	}
}

// SaveJob persists a new job row.
func (s *MemoryJobStore) SaveJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.rows[job.ID] = &cp
	s.order = append(s.order, job.ID)
	return nil
}

// ClaimQueuedJobs atomically flips up to limit queued rows to
// acknowledged_by_worker and returns them, ordered by priority then
// insertion order.
func (s *MemoryJobStore) ClaimQueuedJobs(ctx context.Context, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Job
	for _, id := range s.order {
		row := s.rows[id]
		if row != nil && row.Status == JobStatusQueued {
			candidates = append(candidates, row)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]*Job, 0, len(candidates))
	now := time.Now().UTC()
	for _, row := range candidates {
		row.Status = JobStatusAcknowledgedByWorker
		row.UpdatedAt = now
		cp := *row
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

// UpdateJobStatus applies a partial update, refusing to overwrite terminal
// statuses.
func (s *MemoryJobStore) UpdateJobStatus(ctx context.Context, params UpdateJobStatusParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[params.ID]
	if !ok {
		return ErrJobNotFound
	}
	if row.Status.IsTerminal() {
		return ErrTerminalStatus
	}

	row.Status = params.Status
	if params.StatusMessage != nil {
		row.StatusMessage = *params.StatusMessage
	}
	if params.SubStatusMessage != nil {
		row.SubStatusMessage = *params.SubStatusMessage
	}
	if params.ErrorMessage != nil {
		row.ErrorMessage = *params.ErrorMessage
	}
	if params.ProgressPercentage != nil {
		p := *params.ProgressPercentage
		row.ProgressPercentage = &p
	}
	if params.Response != nil {
		row.Response = *params.Response
	}
	if params.RetryCount != nil {
		row.RetryCount = *params.RetryCount
	}
	if params.Metadata != nil {
		if row.Metadata == nil {
			row.Metadata = map[string]any{}
		}
		for k, v := range params.Metadata {
			row.Metadata[k] = v
		}
	}
	row.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetStaleAcknowledged resets acknowledged rows older than the threshold
// back to queued.
func (s *MemoryJobStore) ResetStaleAcknowledged(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var count int64
	for _, row := range s.rows {
		if row.Status == JobStatusAcknowledgedByWorker && row.UpdatedAt.Before(cutoff) {
			row.Status = JobStatusQueued
			row.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

// GetJob returns a copy of the row for id.
func (s *MemoryJobStore) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *row
	return &cp, nil
}

// ListActiveJobs returns copies of all non-terminal rows.
func (s *MemoryJobStore) ListActiveJobs(ctx context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*Job
	for _, id := range s.order {
		row := s.rows[id]
		if row != nil && !row.Status.IsTerminal() {
			cp := *row
			active = append(active, &cp)
		}
	}
	return active, nil
}

// Ensure MemoryJobStore implements JobStore.
var _ JobStore = (*MemoryJobStore)(nil)
