package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// Number of streamed chunks between sub-status refreshes. Writing on every
// chunk would hammer the store for no visible benefit.
const chunkUpdateStride = 8

const implementationPlanSystem = "You are a senior software engineer. " +
	"Produce a concrete, step-by-step implementation plan for the given task. " +
	"Reference the provided code context where relevant."

// StreamProcessor handles the streaming job types. It walks the streaming
// sub-states (preparing_input, generating_stream, processing_stream) while
// the model produces output, then finalizes the row itself.
type StreamProcessor struct {
	generator generation.Generator
	progress  progressWriter
	logger    *slog.Logger

	// buildRequest decodes the type-specific payload into a model request.
	buildRequest func(payload json.RawMessage) (generation.Request, error)
}

// NewGenericStreamProcessor creates the processor for generic_stream jobs.
func NewGenericStreamProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*StreamProcessor, error) {
	return newStreamProcessor(store, generator, logger, "generic_stream_processor",
		func(payload json.RawMessage) (generation.Request, error) {
			var p GenericStreamPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			return generation.Request{Prompt: p.Prompt, SystemPrompt: p.SystemPrompt}, nil
		})
}

// NewImplementationPlanProcessor creates the processor for
// implementation_plan jobs.
func NewImplementationPlanProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger) (*StreamProcessor, error) {
	return newStreamProcessor(store, generator, logger, "implementation_plan_processor",
		func(payload json.RawMessage) (generation.Request, error) {
			var p ImplementationPlanPayload
			if err := decodePayload(payload, &p); err != nil {
				return generation.Request{}, err
			}
			prompt := fmt.Sprintf("Task:\n%s", p.TaskDescription)
			if p.CodeContext != "" {
				prompt += fmt.Sprintf("\n\nCode context:\n%s", p.CodeContext)
			}
			return generation.Request{Prompt: prompt, SystemPrompt: implementationPlanSystem}, nil
		})
}

func newStreamProcessor(store jobs.JobStore, generator generation.Generator, logger *slog.Logger, component string, build func(json.RawMessage) (generation.Request, error)) (*StreamProcessor, error) {
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
	return &StreamProcessor{
		generator:    generator,
		progress:     progressWriter{store: store, logger: log},
		logger:       log,
		buildRequest: build,
	}, nil
}

// Process runs one streaming job to completion.
func (p *StreamProcessor) Process(ctx context.Context, job jobs.QueuedJob) jobs.Result {
	log := p.logger.With("job_id", job.ID, "job_type", job.Type)

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusPreparingInput, "Preparing prompt", nil); err != nil {
		log.Info("job canceled before start")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	req, err := p.buildRequest(job.Payload)
	if err != nil {
		return jobs.Result{Success: false, Message: "invalid payload", Err: err}
	}

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusGeneratingStream, "Generating response", intPtr(0)); err != nil {
		log.Info("job canceled before generation")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	chunks := 0
	received := 0
	resp, err := p.generator.GenerateStream(ctx, req, func(chunk string) error {
		chunks++
		received += len(chunk)
		if chunks%chunkUpdateStride == 0 {
			// Total length is unknown mid-stream, so progress creeps toward
			// but never reaches completion.
			pct := 5 + chunks
			if pct > 95 {
				pct = 95
			}
			p.progress.setSubStatus(ctx, job.ID, jobs.JobStatusProcessingStream,
				fmt.Sprintf("Received %d characters", received), intPtr(pct))
		}
		return ctx.Err()
	})
	if err != nil {
		log.Warn("stream generation failed", "error", err)
		return jobs.Result{Success: false, Message: "generation failed", Err: err}
	}

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusRunning, "Finalizing response", intPtr(99)); err != nil {
		log.Info("job canceled during generation, discarding result")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	log.Info("stream generation finished",
		"chunks", chunks,
		"output_length", len(resp.Text),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens)

	return p.progress.complete(ctx, job.ID, "Generation complete", resp)
}

var _ jobs.Processor = (*StreamProcessor)(nil)
