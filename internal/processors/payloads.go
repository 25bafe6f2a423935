// Package processors implements the concrete processors for the closed set
// of job types. Each processor decodes its own payload shape, reports
// progress through the durable store, and delegates model calls to the
// generation package.
package processors

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// GenericStreamPayload is the input for generic_stream jobs: a free-form
// prompt streamed back as it generates.
type GenericStreamPayload struct {
	Prompt       string `json:"prompt"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Validate checks required fields.
func (p GenericStreamPayload) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// ImplementationPlanPayload is the input for implementation_plan jobs.
type ImplementationPlanPayload struct {
	TaskDescription string `json:"taskDescription"`
	CodeContext     string `json:"codeContext,omitempty"`
}

// Validate checks required fields.
func (p ImplementationPlanPayload) Validate() error {
	if strings.TrimSpace(p.TaskDescription) == "" {
		return fmt.Errorf("%w: taskDescription is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// TextImprovementPayload is the input for text_improvement jobs.
type TextImprovementPayload struct {
	Text         string `json:"text"`
	Instructions string `json:"instructions,omitempty"`
}

// Validate checks required fields.
func (p TextImprovementPayload) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: text is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// GuidanceGenerationPayload is the input for guidance_generation jobs.
type GuidanceGenerationPayload struct {
	Topic   string `json:"topic"`
	Context string `json:"context,omitempty"`
}

// Validate checks required fields.
func (p GuidanceGenerationPayload) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("%w: topic is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// RegexGenerationPayload is the input for regex_generation jobs.
type RegexGenerationPayload struct {
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// Validate checks required fields.
func (p RegexGenerationPayload) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// PathCorrectionPayload is the input for path_correction jobs: a possibly
// wrong file path to be matched against the known project paths.
type PathCorrectionPayload struct {
	Path       string   `json:"path"`
	KnownPaths []string `json:"knownPaths"`
}

// Validate checks required fields.
func (p PathCorrectionPayload) Validate() error {
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("%w: path is required", jobs.ErrInvalidPayload)
	}
	if len(p.KnownPaths) == 0 {
		return fmt.Errorf("%w: knownPaths is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// TranscriptionPayload is the input for transcription jobs.
type TranscriptionPayload struct {
	AudioURI string `json:"audioUri"`
	MimeType string `json:"mimeType"`
}

// Validate checks required fields.
func (p TranscriptionPayload) Validate() error {
	if strings.TrimSpace(p.AudioURI) == "" {
		return fmt.Errorf("%w: audioUri is required", jobs.ErrInvalidPayload)
	}
	if strings.TrimSpace(p.MimeType) == "" {
		return fmt.Errorf("%w: mimeType is required", jobs.ErrInvalidPayload)
	}
	return nil
}

// decodePayload unmarshals raw into dst and validates it, wrapping every
// failure in jobs.ErrInvalidPayload so the dispatcher never retries it.
func decodePayload(raw json.RawMessage, dst interface{ Validate() error }) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrInvalidPayload, err)
	}
	return dst.Validate()
}
