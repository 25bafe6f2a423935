package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SchedulerConfig holds the worker-pool control loop settings.
type SchedulerConfig struct {
	// ConcurrencyLimit is the maximum number of simultaneously in-flight jobs.
	ConcurrencyLimit int

	// PollingInterval is the local queue-drain cadence.
	PollingInterval time.Duration

	// DBPollInterval is the durable-store poll cadence. It is coarser than
	// the local polling interval to bound store load.
	DBPollInterval time.Duration

	// JobTimeout is the hard ceiling per job. On expiry the scheduler logs
	// the timeout; it does not force a terminal status or free the worker
	// slot — see the dispatch callback notes on Start.
	JobTimeout time.Duration

	// StaleJobTimeout is the lease duration for acknowledged_by_worker.
	StaleJobTimeout time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with the documented
// defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ConcurrencyLimit: 5,
		PollingInterval:  200 * time.Millisecond,
		DBPollInterval:   5 * time.Second,
		JobTimeout:       30 * time.Minute,
		StaleJobTimeout:  600 * time.Second,
	}
}

// Scheduler is the worker-pool control loop. It periodically claims batches
// of queued rows from the durable store, holds them in the in-memory queue,
// and drains the queue through the dispatcher under bounded concurrency.
//
// The control loop itself runs in a single goroutine; dispatched jobs run
// concurrently up to the concurrency limit. A job that never returns from
// its processor permanently occupies a worker slot until process restart —
// the timeout timer only logs. The stale-lease reset on the next startup is
// what recovers such jobs.
type Scheduler struct {
	store      JobStore
	queue      *Queue
	dispatcher *Dispatcher
	config     SchedulerConfig
	logger     *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	// slots is a counting semaphore: one token per in-flight job.
	slots chan struct{}

	mu         sync.Mutex
	started    bool
	lastDBPoll time.Time
}

// NewScheduler creates a scheduler over the given store, queue, and
// dispatcher. Zero config fields are replaced with defaults.
func NewScheduler(store JobStore, queue *Queue, dispatcher *Dispatcher, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.ConcurrencyLimit <= 0 {
		config.ConcurrencyLimit = defaults.ConcurrencyLimit
	}
	if config.PollingInterval <= 0 {
		config.PollingInterval = defaults.PollingInterval
	}
	if config.DBPollInterval <= 0 {
		config.DBPollInterval = defaults.DBPollInterval
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.StaleJobTimeout <= 0 {
		config.StaleJobTimeout = defaults.StaleJobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      store,
		queue:      queue,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.With("component", "scheduler"),
		ctx:        ctx,
		cancelFunc: cancel,
		slots:      make(chan struct{}, config.ConcurrencyLimit),
	}
}

// Start resets stale leases left by a prior crash, performs one immediate
// poll, and begins the recurring tick loop. It returns an error if the
// stale-lease reset cannot reach the store or the scheduler was already
// started.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.resetStaleAcknowledgedJobs(); err != nil {
		return fmt.Errorf("failed to reset stale acknowledged jobs: %w", err)
	}

	// Immediate first poll so queued work does not wait out a full DB
	// interval after startup.
	s.fetchFromStore()
	s.setLastDBPoll(time.Now())
	s.drain()

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		"concurrency_limit", s.config.ConcurrencyLimit,
		"polling_interval", s.config.PollingInterval,
		"db_poll_interval", s.config.DBPollInterval)
	return nil
}

// Stop cancels the control loop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// ActiveWorkers returns the current number of in-flight jobs.
func (s *Scheduler) ActiveWorkers() int {
	return len(s.slots)
}

// run is the steady-state loop, executed in its own goroutine.
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs one claim-and-drain cycle. Claims only happen when the coarse
// DB interval has elapsed.
func (s *Scheduler) tick() {
	if time.Since(s.getLastDBPoll()) >= s.config.DBPollInterval {
		s.fetchFromStore()
		s.setLastDBPoll(time.Now())
	}
	s.drain()
}

// fetchFromStore atomically claims up to the concurrency limit of queued
// rows and enqueues the valid ones. Malformed rows are failed immediately
// and never enter the queue. Store errors skip the cycle; the next interval
// retries.
func (s *Scheduler) fetchFromStore() {
	claimed, err := s.store.ClaimQueuedJobs(s.ctx, s.config.ConcurrencyLimit)
	if err != nil {
		s.logger.Error("failed to claim queued jobs", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}

	s.logger.Debug("claimed jobs from store", "count", len(claimed))

	for _, job := range claimed {
		if err := job.Validate(); err != nil {
			s.logger.Error("claimed job is malformed, marking failed",
				"job_id", job.ID,
				"job_type", job.Type,
				"error", err)
			errMsg := err.Error()
			if updateErr := s.store.UpdateJobStatus(s.ctx, UpdateJobStatusParams{
				ID:           job.ID,
				Status:       JobStatusFailed,
				ErrorMessage: &errMsg,
			}); updateErr != nil {
				s.logger.Error("failed to mark malformed job as failed",
					"job_id", job.ID,
					"error", updateErr)
			}
			continue
		}
		s.queue.Enqueue(job.Queued())
	}
}

// drain hands queued jobs to the dispatcher while worker capacity and the
// queue both allow it. It never waits for a job to complete.
func (s *Scheduler) drain() {
	for {
		select {
		case s.slots <- struct{}{}:
		default:
			return
		}

		job, ok := s.queue.Dequeue()
		if !ok {
			<-s.slots
			return
		}

		s.wg.Add(1)
		go s.runJob(job)
	}
}

// runJob executes one dispatch, frees the worker slot, and immediately
// attempts to pull more work rather than waiting for the next tick.
func (s *Scheduler) runJob(job QueuedJob) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panicked", "job_id", job.ID, "panic", r)
		}
		<-s.slots
		s.drain()
	}()

	timer := time.AfterFunc(s.config.JobTimeout, func() {
		// Operational anomaly, not a forced terminal state: the owning
		// processor is expected to eventually report an outcome, and the
		// stale-lease reset recovers the row after a restart if it never
		// does.
		s.logger.Warn("job exceeded timeout without completing",
			"job_id", job.ID,
			"job_type", job.Type,
			"timeout", s.config.JobTimeout)
	})
	defer timer.Stop()

	outcome := s.dispatcher.Dispatch(s.ctx, job)
	s.logger.Debug("dispatch finished",
		"job_id", job.ID,
		"job_type", job.Type,
		"outcome", outcome)
}

// resetStaleAcknowledgedJobs reclaims leases left by a crashed process.
func (s *Scheduler) resetStaleAcknowledgedJobs() error {
	count, err := s.store.ResetStaleAcknowledged(s.ctx, s.config.StaleJobTimeout)
	if err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("reset stale acknowledged jobs", "count", count)
	}
	return nil
}

func (s *Scheduler) getLastDBPoll() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDBPoll
}

func (s *Scheduler) setLastDBPoll(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDBPoll = t
}
