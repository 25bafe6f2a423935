// Package gemini implements the generation interfaces over Google's Gemini
// API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promptdeck/promptdeck-api/internal/config"
	"github.com/promptdeck/promptdeck-api/internal/generation"
	"google.golang.org/genai"
)

// Generator implements generation.Generator and generation.Transcriber
// using the Gemini API.
type Generator struct {
	logger *slog.Logger
	client *genai.Client
	model  string
}

// NewGenerator creates a Gemini-backed generator from the LLM configuration.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Generator{
		logger: logger.With("component", "gemini_generator"),
		client: client,
		model:  cfg.ModelName,
	}, nil
}

// Generate performs a single blocking model call.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", generation.ErrInvalidConfig)
	}

	g.logger.DebugContext(ctx, "calling Gemini", "model", g.model, "prompt_length", len(req.Prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(req.Prompt), g.generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	return g.toResponse(resp)
}

// GenerateStream performs a streaming model call, forwarding each chunk of
// output to onChunk and returning the assembled response.
func (g *Generator) GenerateStream(ctx context.Context, req generation.Request, onChunk generation.ChunkFunc) (*generation.Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", generation.ErrInvalidConfig)
	}

	g.logger.DebugContext(ctx, "streaming from Gemini", "model", g.model, "prompt_length", len(req.Prompt))

	var (
		text string
		last *genai.GenerateContentResponse
	)
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model,
		genai.Text(req.Prompt), g.generateConfig(req)) {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
		last = chunk
		piece := chunk.Text()
		if piece == "" {
			continue
		}
		text += piece
		if onChunk != nil {
			if err := onChunk(piece); err != nil {
				return nil, fmt.Errorf("stream consumer aborted: %w", err)
			}
		}
	}

	if text == "" {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}

	out := &generation.Response{Text: text, Model: g.model}
	if last != nil && last.UsageMetadata != nil {
		out.InputTokens = int(last.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(last.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// Transcribe returns the transcription of the audio at the given URI.
func (g *Generator) Transcribe(ctx context.Context, audioURI string, mimeType string) (*generation.Response, error) {
	if audioURI == "" {
		return nil, fmt.Errorf("%w: empty audio URI", generation.ErrInvalidConfig)
	}

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText("Transcribe the following audio verbatim."),
		genai.NewPartFromURI(audioURI, mimeType),
	}, genai.RoleUser)

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{content}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	return g.toResponse(resp)
}

func (g *Generator) generateConfig(req generation.Request) *genai.GenerateContentConfig {
	if req.SystemPrompt == "" {
		return nil
	}
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
	}
}

func (g *Generator) toResponse(resp *genai.GenerateContentResponse) (*generation.Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: finish reason safety", generation.ErrContentBlocked)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	out := &generation.Response{Text: text, Model: g.model}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

var (
	_ generation.Generator   = (*Generator)(nil)
	_ generation.Transcriber = (*Generator)(nil)
)
