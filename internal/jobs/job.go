package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a background job.
type JobStatus string

// Possible job status values. Streaming jobs pass through the sub-states
// between acknowledgement and running; simple synchronous jobs go straight
// from running to a terminal state.
const (
	JobStatusQueued               JobStatus = "queued"
	JobStatusAcknowledgedByWorker JobStatus = "acknowledged_by_worker"
	JobStatusPreparingInput       JobStatus = "preparing_input"
	JobStatusGeneratingStream     JobStatus = "generating_stream"
	JobStatusProcessingStream     JobStatus = "processing_stream"
	JobStatusRunning              JobStatus = "running"
	JobStatusCompleted            JobStatus = "completed"
	JobStatusCompletedByTag       JobStatus = "completed_by_tag"
	JobStatusFailed               JobStatus = "failed"
	JobStatusCanceled             JobStatus = "canceled"
)

// JobType identifies which processor handles a job and how its payload is
// interpreted.
type JobType string

// The closed set of job types.
const (
	JobTypeGenericStream      JobType = "generic_stream"
	JobTypeTranscription      JobType = "transcription"
	JobTypeRegexGeneration    JobType = "regex_generation"
	JobTypePathCorrection     JobType = "path_correction"
	JobTypeImplementationPlan JobType = "implementation_plan"
	JobTypeTextImprovement    JobType = "text_improvement"
	JobTypeGuidanceGeneration JobType = "guidance_generation"
)

var knownJobTypes = map[JobType]struct{}{
	JobTypeGenericStream:      {},
	JobTypeTranscription:      {},
	JobTypeRegexGeneration:    {},
	JobTypePathCorrection:     {},
	JobTypeImplementationPlan: {},
	JobTypeTextImprovement:    {},
	JobTypeGuidanceGeneration: {},
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	_, ok := knownJobTypes[t]
	return ok
}

// IsTerminal reports whether s is a terminal status. Terminal statuses are
// immutable; no transition may revert them.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedByTag, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// validTransitions describes the forward edges of the job state machine.
// The queued re-entries from non-terminal states are the retry and
// stale-lease-reset paths.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued: {
		JobStatusAcknowledgedByWorker, JobStatusFailed, JobStatusCanceled,
	},
	JobStatusAcknowledgedByWorker: {
		JobStatusPreparingInput, JobStatusGeneratingStream, JobStatusProcessingStream,
		JobStatusRunning, JobStatusQueued, JobStatusFailed, JobStatusCanceled,
	},
	JobStatusPreparingInput: {
		JobStatusGeneratingStream, JobStatusProcessingStream, JobStatusRunning,
		JobStatusQueued, JobStatusFailed, JobStatusCanceled,
	},
	JobStatusGeneratingStream: {
		JobStatusProcessingStream, JobStatusRunning,
		JobStatusQueued, JobStatusFailed, JobStatusCanceled,
	},
	JobStatusProcessingStream: {
		JobStatusGeneratingStream, JobStatusRunning,
		JobStatusQueued, JobStatusFailed, JobStatusCanceled,
	},
	JobStatusRunning: {
		JobStatusCompleted, JobStatusCompletedByTag,
		JobStatusQueued, JobStatusFailed, JobStatusCanceled,
	},
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Terminal states permit nothing.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is the durable unit of asynchronous work.
type Job struct {
	// ID is the opaque unique identifier, assigned at creation, immutable.
	ID uuid.UUID

	// Type determines which processor handles the job.
	Type JobType

	// Payload is the task-specific input data, interpreted per type.
	Payload json.RawMessage

	// Priority orders dequeueing; higher values dequeue first, FIFO among
	// equal priorities.
	Priority int

	// Status is the job's position in the state machine.
	Status JobStatus

	// StatusMessage and SubStatusMessage carry human-readable progress text,
	// mutated freely by the processor while running.
	StatusMessage    string
	SubStatusMessage string

	// ProgressPercentage is an optional 0-100 indicator for streaming jobs.
	ProgressPercentage *int

	CreatedAt time.Time
	UpdatedAt time.Time

	// Response holds the result text on success; ErrorMessage the diagnostic
	// text on failure.
	Response     string
	ErrorMessage string

	// Metadata is an open map for processor-specific bookkeeping such as
	// token counts and model identifier.
	Metadata map[string]any

	// RetryCount is the number of dispatch attempts so far.
	RetryCount int
}

// NewJob creates a queued job with a fresh identifier.
func NewJob(jobType JobType, payload json.RawMessage, priority int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// QueuedJob is the in-memory projection of a claimed durable job. It lives
// only inside process memory until dispatched and is not durable by itself.
type QueuedJob struct {
	ID       uuid.UUID
	Type     JobType
	Payload  json.RawMessage
	Priority int
}

// Queued projects the durable job into its in-memory form.
func (j *Job) Queued() QueuedJob {
	return QueuedJob{
		ID:       j.ID,
		Type:     j.Type,
		Payload:  j.Payload,
		Priority: j.Priority,
	}
}

// Validate checks that a claimed row carries the fields the dispatcher
// needs. Malformed rows are failed immediately and never retried.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrMalformedJob
	}
	if !j.Type.Valid() {
		return ErrMalformedJob
	}
	if len(j.Payload) == 0 {
		return ErrMalformedJob
	}
	return nil
}
