package jobs

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry associates each job type with exactly one processor. Registration
// happens once at process startup before the scheduler begins polling; the
// lock only guards introspection during operation.
type Registry struct {
	mu         sync.RWMutex
	processors map[JobType]Processor
	logger     *slog.Logger
}

// NewRegistry creates an empty processor registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		processors: make(map[JobType]Processor),
		logger:     logger.With("component", "registry"),
	}
}

// Register binds a processor to a job type. Re-registering a type replaces
// the prior binding; this is a configuration-time operation, so the
// replacement is logged as a warning rather than treated as an error.
func (r *Registry) Register(jobType JobType, processor Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[jobType]; exists {
		r.logger.Warn("replacing registered processor", "job_type", jobType)
	} else {
		r.logger.Debug("registering processor", "job_type", jobType)
	}
	r.processors[jobType] = processor
}

// GetProcessor returns the processor bound to jobType, or false when none is
// registered. The dispatcher treats the absence as a fatal, non-retryable
// failure for that job.
func (r *Registry) GetProcessor(jobType JobType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[jobType]
	return p, ok
}

// HasProcessor reports whether a processor is bound to jobType.
func (r *Registry) HasProcessor(jobType JobType) bool {
	_, ok := r.GetProcessor(jobType)
	return ok
}

// RegisteredTypes returns the bound job types in stable order.
func (r *Registry) RegisteredTypes() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
