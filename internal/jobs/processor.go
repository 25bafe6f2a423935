package jobs

import "context"

// Result is the uniform outcome a processor reports to the dispatcher.
type Result struct {
	// Success reports whether the job's work completed.
	Success bool

	// Message is a human-readable summary of the outcome.
	Message string

	// Data is the optional result payload, stored as the job's response
	// when the processor did not already finalize the row itself.
	Data string

	// Err carries the failure cause; the dispatcher classifies it for the
	// retry policy.
	Err error
}

// Processor executes one job type. A processor is responsible for calling
// UpdateJobStatus on the durable store at meaningful milestones (start,
// streaming progress, completion); the core does not infer progress on its
// behalf.
type Processor interface {
	// Process executes the job to completion or failure. Implementations
	// must not panic across this boundary; the dispatcher captures panics
	// defensively but treats them as failures.
	Process(ctx context.Context, job QueuedJob) Result
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, job QueuedJob) Result

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, job QueuedJob) Result {
	return f(ctx, job)
}
