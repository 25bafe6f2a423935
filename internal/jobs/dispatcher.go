package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxRetries bounds dispatch attempts for job types without an
// explicit override.
const DefaultMaxRetries = 3

// Outcome is the uniform result the dispatcher reports to the scheduler.
type Outcome string

const (
	// OutcomeCompleted means the job reached a successful terminal state.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the job reached the failed terminal state.
	OutcomeFailed Outcome = "failed"
	// OutcomeRetry means the job was reverted to queued for a later claim
	// cycle rather than finalized.
	OutcomeRetry Outcome = "retry_scheduled"
	// OutcomeCanceled means an external cancellation was observed and no
	// further writes were made.
	OutcomeCanceled Outcome = "canceled"
)

// DispatcherConfig holds the retry policy.
type DispatcherConfig struct {
	// MaxRetries is the retry ceiling for types absent from MaxRetriesByType.
	MaxRetries int

	// MaxRetriesByType overrides the ceiling per job type.
	MaxRetriesByType map[JobType]int
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{MaxRetries: DefaultMaxRetries}
}

// Dispatcher executes one queued job to completion or failure, applying the
// retry policy. It does not write partial progress — that is the processor's
// responsibility via direct store updates — but it owns the terminal-state
// transition when the processor did not already reach one.
type Dispatcher struct {
	store    JobStore
	registry *Registry
	config   DispatcherConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given store and registry.
func NewDispatcher(store JobStore, registry *Registry, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		config:   config,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch resolves the processor for the job, executes it, and reflects the
// outcome into the durable row. All failures are captured here; nothing
// propagates to the caller as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, job QueuedJob) Outcome {
	logger := d.logger.With("job_id", job.ID, "job_type", job.Type)

	processor, ok := d.registry.GetProcessor(job.Type)
	if !ok {
		logger.Error("no processor registered for job type")
		err := fmt.Errorf("%w: %s", ErrNoProcessor, job.Type)
		d.failJob(ctx, logger, job, err)
		return OutcomeFailed
	}

	result := d.safeProcess(ctx, processor, job)

	// Re-read the row: the processor may have finalized it, and an external
	// actor may have canceled it while we were running. A canceled row must
	// never be overwritten.
	row, err := d.store.GetJob(ctx, job.ID)
	if err != nil {
		logger.Error("failed to read job after processing", "error", err)
		if result.Success {
			return OutcomeCompleted
		}
		return OutcomeFailed
	}

	if row.Status == JobStatusCanceled {
		logger.Info("job was canceled during processing, leaving status untouched")
		return OutcomeCanceled
	}

	if result.Success {
		if !row.Status.IsTerminal() {
			d.finalizeSuccess(ctx, logger, job, result)
		}
		logger.Info("job completed", "message", result.Message)
		return OutcomeCompleted
	}

	procErr := result.Err
	if procErr == nil {
		procErr = errors.New(result.Message)
	}

	if !IsRetryable(procErr) {
		logger.Error("job failed with non-retryable error", "error", procErr)
		d.failJob(ctx, logger, job, procErr)
		return OutcomeFailed
	}

	maxRetries := d.maxRetriesFor(job.Type)
	if row.RetryCount < maxRetries {
		next := row.RetryCount + 1
		logger.Warn("job failed, scheduling retry",
			"error", procErr,
			"retry", next,
			"max_retries", maxRetries)

		msg := fmt.Sprintf("Retry %d/%d scheduled after error", next, maxRetries)
		errMsg := procErr.Error()
		if err := d.store.UpdateJobStatus(ctx, UpdateJobStatusParams{
			ID:            job.ID,
			Status:        JobStatusQueued,
			StatusMessage: &msg,
			ErrorMessage:  &errMsg,
			RetryCount:    &next,
		}); err != nil {
			logger.Error("failed to schedule retry, failing job", "error", err)
			d.failJob(ctx, logger, job, procErr)
			return OutcomeFailed
		}
		return OutcomeRetry
	}

	logger.Error("job failed after exhausting retries",
		"error", procErr,
		"retry_count", row.RetryCount,
		"max_retries", maxRetries)
	d.failJob(ctx, logger, job, procErr)
	return OutcomeFailed
}

// safeProcess invokes the processor, converting a panic into a failure
// result instead of letting it escape the dispatch boundary.
func (d *Dispatcher) safeProcess(ctx context.Context, processor Processor, job QueuedJob) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("processor panicked",
				"job_id", job.ID,
				"job_type", job.Type,
				"panic", r)
			result = Result{Err: fmt.Errorf("processor panic: %v", r)}
		}
	}()
	return processor.Process(ctx, job)
}

// finalizeSuccess writes the completed terminal state for processors that
// reported success without finalizing the row themselves.
func (d *Dispatcher) finalizeSuccess(ctx context.Context, logger *slog.Logger, job QueuedJob, result Result) {
	params := UpdateJobStatusParams{
		ID:     job.ID,
		Status: JobStatusCompleted,
	}
	if result.Message != "" {
		params.StatusMessage = &result.Message
	}
	if result.Data != "" {
		params.Response = &result.Data
	}
	if err := d.store.UpdateJobStatus(ctx, params); err != nil {
		if errors.Is(err, ErrTerminalStatus) {
			logger.Debug("job already terminal, skipping finalization")
			return
		}
		logger.Error("failed to finalize completed job", "error", err)
	}
}

// failJob writes the failed terminal state, preserving the error message.
func (d *Dispatcher) failJob(ctx context.Context, logger *slog.Logger, job QueuedJob, cause error) {
	errMsg := cause.Error()
	if err := d.store.UpdateJobStatus(ctx, UpdateJobStatusParams{
		ID:           job.ID,
		Status:       JobStatusFailed,
		ErrorMessage: &errMsg,
	}); err != nil {
		if errors.Is(err, ErrTerminalStatus) {
			logger.Debug("job already terminal, skipping failure write")
			return
		}
		logger.Error("failed to mark job as failed", "error", err)
	}
}

func (d *Dispatcher) maxRetriesFor(jobType JobType) int {
	if n, ok := d.config.MaxRetriesByType[jobType]; ok {
		return n
	}
	return d.config.MaxRetries
}
