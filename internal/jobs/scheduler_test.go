package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSchedulerConfig(limit int) SchedulerConfig {
	return SchedulerConfig{
		ConcurrencyLimit: limit,
		PollingInterval:  10 * time.Millisecond,
		DBPollInterval:   20 * time.Millisecond,
		JobTimeout:       time.Minute,
		StaleJobTimeout:  time.Minute,
	}
}

func newTestScheduler(store JobStore, registry *Registry, cfg SchedulerConfig) *Scheduler {
	logger := setupTestLogger()
	dispatcher := NewDispatcher(store, registry, DefaultDispatcherConfig(), logger)
	return NewScheduler(store, NewQueue(logger), dispatcher, cfg, logger)
}

func TestSchedulerProcessesJobsToTerminalState(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		return Result{Success: true, Message: "done"}
	}))

	var ids []*Job
	for i := 0; i < 4; i++ {
		job := NewJob(JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
		require.NoError(t, store.SaveJob(context.Background(), job))
		ids = append(ids, job)
	}

	s := newTestScheduler(store, registry, fastSchedulerConfig(2))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		for _, job := range ids {
			row, err := store.GetJob(context.Background(), job.ID)
			if err != nil || row.Status != JobStatusCompleted {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSchedulerBoundedConcurrency(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	const limit = 3
	const total = 10

	var active, maxActive, processed int64
	var mu sync.Mutex

	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		n := atomic.AddInt64(&active, 1)
		mu.Lock()
		if n > maxActive {
			maxActive = n
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		atomic.AddInt64(&active, -1)
		atomic.AddInt64(&processed, 1)
		return Result{Success: true}
	}))

	for i := 0; i < total; i++ {
		job := NewJob(JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
		require.NoError(t, store.SaveJob(context.Background(), job))
	}

	s := newTestScheduler(store, registry, fastSchedulerConfig(limit))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&processed) == total
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	observedMax := maxActive
	mu.Unlock()
	assert.LessOrEqual(t, observedMax, int64(limit))

	remaining, err := store.ListActiveJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSchedulerResetsStaleLeasesOnStart(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	var processedID atomic.Value
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		processedID.Store(job.ID)
		return Result{Success: true}
	}))

	// Simulate a row left acknowledged by a crashed process: claimed long
	// enough ago that it is past the stale threshold.
	stale := NewJob(JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), 0)
	require.NoError(t, store.SaveJob(context.Background(), stale))
	claimed, err := store.ClaimQueuedJobs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	cfg := fastSchedulerConfig(1)
	cfg.StaleJobTimeout = time.Nanosecond
	time.Sleep(5 * time.Millisecond)

	s := newTestScheduler(store, registry, cfg)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		row, err := store.GetJob(context.Background(), stale.ID)
		return err == nil && row.Status == JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, stale.ID, processedID.Load())
}

func TestSchedulerFailsMalformedClaimedRows(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())
	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		return Result{Success: true}
	}))

	// A row with an empty payload fails claimed-row validation.
	malformed := NewJob(JobTypeGenericStream, nil, 0)
	require.NoError(t, store.SaveJob(context.Background(), malformed))

	s := newTestScheduler(store, registry, fastSchedulerConfig(1))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		row, err := store.GetJob(context.Background(), malformed.ID)
		return err == nil && row.Status == JobStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	row, err := store.GetJob(context.Background(), malformed.ID)
	require.NoError(t, err)
	assert.Contains(t, row.ErrorMessage, "malformed")
}

func TestSchedulerStartTwiceFails(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	s := newTestScheduler(store, registry, fastSchedulerConfig(1))
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start())
}

func TestSchedulerHonorsPriorityAcrossClaims(t *testing.T) {
	store := NewMemoryJobStore()
	registry := NewRegistry(setupTestLogger())

	var mu sync.Mutex
	var order []int

	registry.Register(JobTypeGenericStream, ProcessorFunc(func(ctx context.Context, job QueuedJob) Result {
		mu.Lock()
		order = append(order, job.Priority)
		mu.Unlock()
		return Result{Success: true}
	}))

	for _, p := range []int{1, 5, 3} {
		job := NewJob(JobTypeGenericStream, json.RawMessage(`{"prompt":"x"}`), p)
		require.NoError(t, store.SaveJob(context.Background(), job))
	}

	// One worker slot so completion order reflects dequeue order.
	s := newTestScheduler(store, registry, fastSchedulerConfig(1))
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{5, 3, 1}, order)
}
