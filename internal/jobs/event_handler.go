package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/promptdeck/promptdeck-api/internal/events"
)

// JobRequestEventHandler implements the events.EventHandler interface,
// turning job-request events from the API layer into durable queued rows.
// The scheduler picks them up on its next claim cycle.
type JobRequestEventHandler struct {
	store  JobStore
	logger *slog.Logger
}

// NewJobRequestEventHandler creates an event handler persisting requested
// jobs to the given store.
func NewJobRequestEventHandler(store JobStore, logger *slog.Logger) *JobRequestEventHandler {
	return &JobRequestEventHandler{
		store:  store,
		logger: logger.With("component", "job_request_event_handler"),
	}
}

// HandleEvent validates the requested job type and persists a new row in
// status queued.
func (h *JobRequestEventHandler) HandleEvent(ctx context.Context, event *events.JobRequestEvent) error {
	jobType := JobType(event.Type)
	if !jobType.Valid() {
		h.logger.Error("rejecting job request with unknown type",
			"event_id", event.ID,
			"event_type", event.Type)
		return fmt.Errorf("%w: unknown job type %q", ErrMalformedJob, event.Type)
	}

	if len(event.Payload) == 0 {
		h.logger.Error("rejecting job request with empty payload",
			"event_id", event.ID,
			"event_type", event.Type)
		return fmt.Errorf("%w: empty payload", ErrMalformedJob)
	}

	job := NewJob(jobType, event.Payload, event.Priority)
	// Reuse the event id so callers can poll the job they requested.
	job.ID = event.ID

	if err := h.store.SaveJob(ctx, job); err != nil {
		h.logger.Error("failed to persist requested job",
			"event_id", event.ID,
			"job_type", jobType,
			"error", err)
		return fmt.Errorf("failed to persist job: %w", err)
	}

	h.logger.Info("job request persisted",
		"job_id", job.ID,
		"job_type", jobType,
		"priority", job.Priority)
	return nil
}

// Ensure JobRequestEventHandler implements events.EventHandler.
var _ events.EventHandler = (*JobRequestEventHandler)(nil)
