package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobRequestEvent represents a request to create a background job. It
// carries the information job creation needs without a direct dependency on
// the jobs package.
type JobRequestEvent struct {
	// ID is a unique identifier for this event.
	ID uuid.UUID `json:"id"`

	// Type indicates the job type that should be created.
	Type string `json:"type"`

	// Payload contains the job-specific data serialized as JSON.
	Payload json.RawMessage `json:"payload"`

	// Priority orders the requested job; higher dequeues first.
	Priority int `json:"priority"`

	// CreatedAt is the timestamp when the event was created.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *JobRequestEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewJobRequestEvent creates a new JobRequestEvent with the specified type,
// payload, and priority.
func NewJobRequestEvent(jobType string, payload interface{}, priority int) (*JobRequestEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &JobRequestEvent{
		ID:        uuid.New(),
		Type:      jobType,
		Payload:   payloadBytes,
		Priority:  priority,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *JobRequestEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows the API layer to request job creation without direct knowledge
// of the scheduling core.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobRequestEvent) error
}
