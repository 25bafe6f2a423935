// Package generation defines the boundary between the scheduling core's
// processors and external model services. Processors depend on these
// interfaces; the concrete client lives in platform/gemini.
package generation

import "context"

// Request describes one model call.
type Request struct {
	// Prompt is the user-facing prompt text.
	Prompt string

	// SystemPrompt optionally steers the model; empty means none.
	SystemPrompt string
}

// Response is the outcome of a model call.
type Response struct {
	// Text is the generated output.
	Text string

	// Model identifies the model that produced the output.
	Model string

	// InputTokens and OutputTokens are the token counts reported by the
	// provider, zero when unavailable.
	InputTokens  int
	OutputTokens int
}

// ChunkFunc receives incremental output during a streaming call. Returning
// an error aborts the stream.
type ChunkFunc func(chunk string) error

// Generator produces text from prompts.
type Generator interface {
	// Generate performs a single blocking model call.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream performs a streaming model call, invoking onChunk for
	// each piece of output, and returns the assembled response.
	GenerateStream(ctx context.Context, req Request, onChunk ChunkFunc) (*Response, error)
}

// Transcriber converts referenced audio into text.
type Transcriber interface {
	// Transcribe returns the transcription of the audio at the given URI.
	Transcribe(ctx context.Context, audioURI string, mimeType string) (*Response, error)
}
