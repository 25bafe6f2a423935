// Package api exposes the HTTP surface: enqueueing jobs, polling their
// status, and requesting cancellation.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/promptdeck/promptdeck-api/internal/api/shared"
	"github.com/promptdeck/promptdeck-api/internal/events"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
)

// CreateJobRequest represents the request body for enqueueing a job.
type CreateJobRequest struct {
	Type     string          `json:"type"     validate:"required"`
	Payload  json.RawMessage `json:"payload"  validate:"required"`
	Priority int             `json:"priority" validate:"gte=0"`
}

// CreateJobResponse is returned on a successful enqueue.
type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobResponse represents the response data for a job.
type JobResponse struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Priority           int            `json:"priority"`
	Status             string         `json:"status"`
	StatusMessage      string         `json:"status_message,omitempty"`
	SubStatusMessage   string         `json:"sub_status_message,omitempty"`
	ProgressPercentage *int           `json:"progress_percentage,omitempty"`
	Response           string         `json:"response,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	RetryCount         int            `json:"retry_count"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// JobHandler handles job-related HTTP requests. Enqueueing goes through the
// event emitter rather than the store directly, keeping the API layer
// decoupled from job persistence.
type JobHandler struct {
	emitter   events.EventEmitter
	store     jobs.JobStore
	validator *validator.Validate
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(emitter events.EventEmitter, store jobs.JobStore, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		emitter:   emitter,
		store:     store,
		validator: validator.New(),
		logger:    logger.With("component", "job_handler"),
	}
}

// Routes registers the job endpoints on the given router.
func (h *JobHandler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{id}", h.GetJob)
	r.Post("/jobs/{id}/cancel", h.CancelJob)
}

// CreateJob handles POST /jobs requests.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if !jobs.JobType(req.Type).Valid() {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown job type: "+req.Type)
		return
	}

	event, err := events.NewJobRequestEvent(req.Type, req.Payload, req.Priority)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid payload")
		return
	}

	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		if errors.Is(err, jobs.ErrMalformedJob) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Malformed job request")
			return
		}
		h.logger.Error("failed to enqueue job",
			"job_type", req.Type,
			"error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	// 202 since the work happens asynchronously; the id is what callers poll.
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateJobResponse{
		JobID:  event.ID.String(),
		Status: string(jobs.JobStatusQueued),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", id, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to get job")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /jobs requests, returning all non-terminal jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.ListActiveJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list active jobs", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	response := make([]JobResponse, 0, len(active))
	for _, job := range active {
		response = append(response, jobToResponse(job))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// CancelJob handles POST /jobs/{id}/cancel requests. Cancellation is
// cooperative: the row is marked canceled and in-flight processors discard
// their result when they notice.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid job ID")
		return
	}

	message := "Canceled by user"
	err = h.store.UpdateJobStatus(r.Context(), jobs.UpdateJobStatusParams{
		ID:            id,
		Status:        jobs.JobStatusCanceled,
		StatusMessage: &message,
	})
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			shared.RespondWithError(w, r, http.StatusNotFound, "Job not found")
		case errors.Is(err, jobs.ErrTerminalStatus):
			shared.RespondWithError(w, r, http.StatusConflict, "Job already finished")
		default:
			h.logger.Error("failed to cancel job", "job_id", id, "error", err)
			shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to cancel job")
		}
		return
	}

	h.logger.Info("job canceled", "job_id", id)

	shared.RespondWithJSON(w, r, http.StatusOK, CreateJobResponse{
		JobID:  id.String(),
		Status: string(jobs.JobStatusCanceled),
	})
}

func jobToResponse(job *jobs.Job) JobResponse {
	return JobResponse{
		ID:                 job.ID.String(),
		Type:               string(job.Type),
		Priority:           job.Priority,
		Status:             string(job.Status),
		StatusMessage:      job.StatusMessage,
		SubStatusMessage:   job.SubStatusMessage,
		ProgressPercentage: job.ProgressPercentage,
		Response:           job.Response,
		ErrorMessage:       job.ErrorMessage,
		Metadata:           job.Metadata,
		RetryCount:         job.RetryCount,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}
}
