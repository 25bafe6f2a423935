package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

const (
	textImprovementSystem = "You are an expert editor. Improve the given text " +
		"while preserving its meaning and voice. Return only the improved text."

	guidanceSystem = "You are a knowledgeable assistant. Provide practical, " +
		"actionable guidance on the requested topic."

	regexSystem = "You are a regular expression expert. Produce a single " +
		"regular expression matching the described pattern. Return only the " +
		"expression, no explanation."

	pathCorrectionSystem = "You are given a possibly misspelled or outdated " +
		"file path and a list of real paths in the project. Return the single " +
		"real path that best matches the given one, exactly as it appears in " +
		"the list. Return only the path."
)

// PromptProcessor handles the single-shot job types: one blocking model call
// producing the whole response at once. Covers text_improvement,
// guidance_generation, regex_generation and path_correction.
type PromptProcessor struct {
	generator generation.Generator
	progress  progressWriter
	logger    *slog.Logger

	statusMessage string
	buildRequest  func(payload json.RawMessage) (generation.Request, error)
}

// NewTextImprovementProcessor creates the processor for text_improvement
// jobs.
func NewTextImprovementProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*PromptProcessor, error) {
	return newPromptProcessor(store, generator, logger,
		"text_improvement_processor", "Improving text",
		func(payload json.RawMessage) (generation.Request, error) {
			var p TextImprovementPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			prompt := p.Text
			if p.Instructions != "" {
				prompt = fmt.Sprintf("Instructions:\n%s\n\nText:\n%s", p.Instructions, p.Text)
			}
			return generation.Request{Prompt: prompt, SystemPrompt: textImprovementSystem}, nil
		})
}

// NewGuidanceGenerationProcessor creates the processor for
// guidance_generation jobs.
func NewGuidanceGenerationProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*PromptProcessor, error) {
	return newPromptProcessor(store, generator, logger,
		"guidance_generation_processor", "Generating guidance",
		func(payload json.RawMessage) (generation.Request, error) {
			var p GuidanceGenerationPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			prompt := fmt.Sprintf("Topic:\n%s", p.Topic)
			if p.Context != "" {
				prompt += fmt.Sprintf("\n\nContext:\n%s", p.Context)
			}
			return generation.Request{Prompt: prompt, SystemPrompt: guidanceSystem}, nil
		})
}

// NewRegexGenerationProcessor creates the processor for regex_generation
// jobs.
func NewRegexGenerationProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*PromptProcessor, error) {
	return newPromptProcessor(store, generator, logger,
		"regex_generation_processor", "Generating regular expression",
		func(payload json.RawMessage) (generation.Request, error) {
			var p RegexGenerationPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			prompt := fmt.Sprintf("Pattern description:\n%s", p.Description)
			if len(p.Examples) > 0 {
				prompt += fmt.Sprintf("\n\nStrings that must match:\n%s", strings.Join(p.Examples, "\n"))
			}
			return generation.Request{Prompt: prompt, SystemPrompt: regexSystem}, nil
		})
}

// NewPathCorrectionProcessor creates the processor for path_correction jobs.
func NewPathCorrectionProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*PromptProcessor, error) {
	return newPromptProcessor(store, generator, logger,
		"path_correction_processor", "Correcting path",
		func(payload json.RawMessage) (generation.Request, error) {
			var p PathCorrectionPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			prompt := fmt.Sprintf("Given path:\n%s\n\nKnown project paths:\n%s",
				p.Path, strings.Join(p.KnownPaths, "\n"))
			return generation.Request{Prompt: prompt, SystemPrompt: pathCorrectionSystem}, nil
		})
}

func newPromptProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger, component, statusMessage string, build func(json.RawMessage) (generation.Request, error)) (*PromptProcessor, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if generator == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	log := logger.With("component", component)
	return &PromptProcessor{
		generator:     generator,
		progress:      progressWriter{store: store, logger: log},
		logger:        log,
		statusMessage: statusMessage,
		buildRequest:  build,
	}, nil
}

// Process runs one single-shot job to completion.
func (p *PromptProcessor) Process(ctx context.Context, job jobs.QueuedJob) jobs.Result {
	log := p.logger.With("job_id", job.ID, "job_type", job.Type)

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusRunning, p.statusMessage, nil); err != nil {
		log.Info("job canceled before start")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	req, err := p.buildRequest(job.Payload)
	if err != nil {
		return jobs.Result{Success: false, Message: "invalid payload", Err: err}
	}

	resp, err := p.generator.Generate(ctx, req)
	if err != nil {
		log.Warn("generation failed", "error", err)
		return jobs.Result{Success: false, Message: "generation failed", Err: err}
	}

	log.Info("generation finished",
		"output_length", len(resp.Text),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens)

	return p.progress.complete(ctx, job.ID, "Generation complete", resp)
}

var _ jobs.Processor = (*PromptProcessor)(nil)
