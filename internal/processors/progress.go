package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// progressWriter wraps the durable store with the status bookkeeping every
// processor needs: milestone updates while working, and a finalization that
// respects an already-terminal row (cooperative cancellation).
type progressWriter struct {
	store  jobs.JobStore
	logger *slog.Logger
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// setStatus writes a milestone update. A terminal row means the job was
// canceled from outside; the caller should stop doing work.
func (w *progressWriter) setStatus(ctx context.Context, id uuid.UUID, status jobs.JobStatus, message string, progress *int) error {
	err := w.store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:                 id,
		Status:             status,
		StatusMessage:      strPtr(message),
		ProgressPercentage: progress,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			return err
		}
		w.logger.Warn("failed to update job status",
			"job_id", id,
			"status", status,
			"error", err)
	}
	return nil
}

// setSubStatus refreshes the sub-status line and progress without changing
// the job's state. Used for per-chunk streaming updates; failures are
// logged and swallowed so a flaky store write never kills a healthy stream.
func (w *progressWriter) setSubStatus(ctx context.Context, id uuid.UUID, status jobs.JobStatus, subMessage string, progress *int) {
	err := w.store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:                 id,
		Status:             status,
		SubStatusMessage:   strPtr(subMessage),
		ProgressPercentage: progress,
	})
	if err != nil && !errors.Is(err, jobs.ErrTerminalStatus) {
		w.logger.Warn("failed to update job sub-status",
			"job_id", id,
			"error", err)
	}
}

// complete finalizes the row as completed, recording the response text and
// the model bookkeeping metadata. An already-terminal row is left alone.
func (w *progressWriter) complete(ctx context.Context, id uuid.UUID, message string, resp *generation.Response) jobs.Result {
	metadata := map[string]any{
		"model":        resp.Model,
		"inputTokens":  resp.InputTokens,
		"outputTokens": resp.OutputTokens,
	}
	err := w.store.UpdateJobStatus(ctx, jobs.UpdateJobStatusParams{
		ID:                 id,
		Status:             jobs.JobStatusCompleted,
		StatusMessage:      strPtr(message),
		Response:           strPtr(resp.Text),
		ProgressPercentage: intPtr(100),
		Metadata:           metadata,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrTerminalStatus) {
			w.logger.Info("job reached terminal state elsewhere, discarding result", "job_id", id)
			return jobs.Result{Success: true, Message: "job already finalized"}
		}
		return jobs.Result{
			Success: false,
			Message: "failed to record completion",
			Err:     fmt.Errorf("failed to record completion: %w", err),
		}
	}
	return jobs.Result{Success: true, Message: message, Data: resp.Text}
}
