package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, store JobStore, registry *Registry) *Dispatcher {
	t.Helper()
	return NewDispatcher(store, registry, DefaultDispatcherConfig(), setupTestLogger())
}

func saveQueuedJob(t *testing.T, store JobStore, jobType JobType) *Job {
	t.Helper()
	job := NewJob(jobType, json.RawMessage(`{"prompt":"x"}`), 0)
	require.NoError(t, store.SaveJob(context.Background(), job))
	return job
}

func TestDispatchUnknownTypeFailsWithoutRetry(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeFailed, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "no processor registered")
	assert.Equal(t, 0, row.RetryCount)
}

func TestDispatchInvalidPayloadFailsWithoutRetry(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		return Result{Err: fmt.Errorf("%w: missing prompt", ErrInvalidPayload)}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeFailed, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, row.Status)
	assert.Equal(t, 0, row.RetryCount)
}

func TestDispatchRetryableFailureRevertsToQueued(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		return Result{Err: errors.New("upstream unavailable")}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeRetry, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, row.Status)
	assert.Equal(t, 1, row.RetryCount)
	assert.Contains(t, row.StatusMessage, "Retry 1/3")
	assert.Contains(t, row.ErrorMessage, "upstream unavailable")
}

func TestDispatchRetryExhaustion(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	attempts := 0
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		attempts++
		return Result{Err: errors.New("always fails")}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	// Drive the claim/dispatch cycle the way the scheduler would until the
	// job stops coming back.
	for i := 0; i < DefaultMaxRetries+2; i++ {
		claimed, err := store.ClaimQueuedJobs(context.Background(), 1)
		require.NoError(t, err)
		if len(claimed) == 0 {
			break
		}
		d.Dispatch(context.Background(), claimed[0].Queued())
	}

	assert.Equal(t, DefaultMaxRetries+1, attempts)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, row.Status)
	assert.Equal(t, DefaultMaxRetries, row.RetryCount)
	assert.Contains(t, row.ErrorMessage, "always fails")
}

func TestDispatchPerTypeRetryOverride(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	attempts := 0
	registry.Register(JobTypeTranscription, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		attempts++
		return Result{Err: errors.New("flaky upstream")}
	}))
	d := NewDispatcher(store, registry, DispatcherConfig{
		MaxRetries:       DefaultMaxRetries,
		MaxRetriesByType: map[JobType]int{JobTypeTranscription: 1},
	}, setupTestLogger())

	job := saveQueuedJob(t, store, JobTypeTranscription)

	for i := 0; i < 5; i++ {
		claimed, err := store.ClaimQueuedJobs(context.Background(), 1)
		require.NoError(t, err)
		if len(claimed) == 0 {
			break
		}
		d.Dispatch(context.Background(), claimed[0].Queued())
	}

	assert.Equal(t, 2, attempts)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, row.Status)
}

func TestDispatchPanicIsCaptured(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		panic("boom")
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	var outcome Outcome
	assert.NotPanics(t, func() {
		outcome = d.Dispatch(context.Background(), job.Queued())
	})
	// A panic is a retryable failure: the job goes back to queued.
	assert.Equal(t, OutcomeRetry, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, row.Status)
	assert.Contains(t, row.ErrorMessage, "panic")
}

func TestDispatchSuccessFinalizesRow(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		return Result{Success: true, Message: "done", Data: "the answer"}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeCompleted, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, row.Status)
	assert.Equal(t, "the answer", row.Response)
}

func TestDispatchDoesNotOverwriteProcessorFinalization(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		msg := "finalized by processor"
		resp := "self-written"
		err := store.UpdateJobStatus(ctx, UpdateJobStatusParams{
			ID:            job.ID,
			Status:        JobStatusCompleted,
			StatusMessage: &msg,
			Response:      &resp,
		})
		return Result{Success: true, Message: "done", Data: "dispatcher data", Err: err}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeCompleted, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "self-written", row.Response)
	assert.Equal(t, "finalized by processor", row.StatusMessage)
}

func TestDispatchCanceledJobIsNotOverwritten(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		// Cancellation lands while the processor is working.
		msg := "Canceled by user"
		_ = store.UpdateJobStatus(ctx, UpdateJobStatusParams{
			ID:            job.ID,
			Status:        JobStatusCanceled,
			StatusMessage: &msg,
		})
		return Result{Success: true, Message: "done", Data: "too late"}
	}))
	d := newTestDispatcher(t, store, registry)

	job := saveQueuedJob(t, store, JobTypeGenericStream)

	outcome := d.Dispatch(context.Background(), job.Queued())
	assert.Equal(t, OutcomeCanceled, outcome)

	row, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCanceled, row.Status)
	assert.Empty(t, row.Response)
}
