package processors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// TranscriptionProcessor handles transcription jobs, converting a referenced
// audio file into text through the transcriber.
type TranscriptionProcessor struct {
	transcriber generation.Transcriber
	progress    progressWriter
	logger      *slog.Logger
}

// NewTranscriptionProcessor creates the processor for transcription jobs.
func NewTranscriptionProcessor(store jobs.JobStore, transcriber generation.Transcriber, logger *slog.Logger) (*TranscriptionProcessor, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if transcriber == nil {
		return nil, errors.New("transcriber cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	log := logger.With("component", "transcription_processor")
	return &TranscriptionProcessor{
		transcriber: transcriber,
		progress:    progressWriter{store: store, logger: log},
		logger:      log,
	}, nil
}

// Process runs one transcription job to completion.
func (p *TranscriptionProcessor) Process(ctx context.Context, job jobs.QueuedJob) jobs.Result {
	log := p.logger.With("job_id", job.ID)

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusPreparingInput, "Loading audio", nil); err != nil {
		log.Info("job canceled before start")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	var payload TranscriptionPayload
	if err := decodePayload(job.Payload, &payload); err != nil {
		return jobs.Result{Success: false, Message: "invalid payload", Err: err}
	}

	if err := p.progress.setStatus(ctx, job.ID, jobs.JobStatusRunning, "Transcribing audio", nil); err != nil {
		log.Info("job canceled before transcription")
		return jobs.Result{Success: true, Message: "job already finalized"}
	}

	resp, err := p.transcriber.Transcribe(ctx, payload.AudioURI, payload.MimeType)
	if err != nil {
		log.Warn("transcription failed", "error", err)
		return jobs.Result{Success: false, Message: "transcription failed", Err: err}
	}

	log.Info("transcription finished", "output_length", len(resp.Text))

	return p.progress.complete(ctx, job.ID, "Transcription complete", resp)
}

var _ jobs.Processor = (*TranscriptionProcessor)(nil)
