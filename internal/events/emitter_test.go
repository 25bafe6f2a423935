package events

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type recordingHandler struct {
	events []*JobRequestEvent
	err    error
}

func (h *recordingHandler) HandleEvent(ctx context.Context, event *JobRequestEvent) error {
	h.events = append(h.events, event)
	return h.err
}

func TestEmitEventReachesAllHandlers(t *testing.T) {
	emitter := NewInMemoryEventEmitter(setupTestLogger())

	first := &recordingHandler{}
	second := &recordingHandler{}
	emitter.RegisterHandler(first)
	emitter.RegisterHandler(second)

	event, err := NewJobRequestEvent("generic_stream", map[string]string{"prompt": "hi"}, 1)
	require.NoError(t, err)

	require.NoError(t, emitter.EmitEvent(context.Background(), event))

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, event.ID, first.events[0].ID)
}

func TestEmitEventReturnsFirstErrorButContinues(t *testing.T) {
	emitter := NewInMemoryEventEmitter(setupTestLogger())

	failing := &recordingHandler{err: errors.New("handler broke")}
	healthy := &recordingHandler{}
	emitter.RegisterHandler(failing)
	emitter.RegisterHandler(healthy)

	event, err := NewJobRequestEvent("generic_stream", map[string]string{}, 0)
	require.NoError(t, err)

	err = emitter.EmitEvent(context.Background(), event)
	assert.EqualError(t, err, "handler broke")

	// The failure of the first handler did not stop delivery to the second.
	assert.Len(t, healthy.events, 1)
}

func TestEmitEventWithNoHandlers(t *testing.T) {
	emitter := NewInMemoryEventEmitter(setupTestLogger())

	event, err := NewJobRequestEvent("generic_stream", map[string]string{}, 0)
	require.NoError(t, err)

	assert.NoError(t, emitter.EmitEvent(context.Background(), event))
}

func TestJobRequestEventUnmarshalPayload(t *testing.T) {
	event, err := NewJobRequestEvent("generic_stream", map[string]string{"prompt": "hi"}, 0)
	require.NoError(t, err)

	var decoded struct {
		Prompt string `json:"prompt"`
	}
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, "hi", decoded.Prompt)
}
