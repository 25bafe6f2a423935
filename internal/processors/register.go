package processors

import (
	"fmt"
	"log/slog"

	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// RegisterAll binds a processor to every known job type. The transcriber may
// be the same object as the generator when one client implements both.
func RegisterAll(registry *jobs.Registry, store jobs.JobStore, generator generation.Generator, transcriber generation.Transcriber, logger *slog.Logger) error {
	generic, err := NewGenericStreamProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create generic_stream processor: %w", err)
	}
	registry.Register(jobs.JobTypeGenericStream, generic)

	plan, err := NewImplementationPlanProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create implementation_plan processor: %w", err)
	}
	registry.Register(jobs.JobTypeImplementationPlan, plan)

	improve, err := NewTextImprovementProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create text_improvement processor: %w", err)
	}
	registry.Register(jobs.JobTypeTextImprovement, improve)

	guidance, err := NewGuidanceGenerationProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create guidance_generation processor: %w", err)
	}
	registry.Register(jobs.JobTypeGuidanceGeneration, guidance)

	regex, err := NewRegexGenerationProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create regex_generation processor: %w", err)
	}
	registry.Register(jobs.JobTypeRegexGeneration, regex)

	path, err := NewPathCorrectionProcessor(store, generator, logger)
	if err != nil {
		return fmt.Errorf("failed to create path_correction processor: %w", err)
	}
	registry.Register(jobs.JobTypePathCorrection, path)

	transcription, err := NewTranscriptionProcessor(store, transcriber, logger)
	if err != nil {
		return fmt.Errorf("failed to create transcription processor: %w", err)
	}
	registry.Register(jobs.JobTypeTranscription, transcription)

	return nil
}
