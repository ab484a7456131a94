package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veridate/faceseek/internal/match"
)

// Regenerator runs one full descriptor regeneration. Satisfied by
// *match.RegenerationJob via NewRegenerateHandler's factory.
type Regenerator interface {
	Run(ctx context.Context) (*match.Report, error)
}

// RegenerateHandler exposes the batch regeneration job over HTTP. The run is
// asynchronous: starting returns a job id immediately and progress is polled.
type RegenerateHandler struct {
	jobs   *JobManager
	newRun func(onProgress func(processed, total int), retryOnly bool) Regenerator
}

func NewRegenerateHandler(jobs *JobManager, newRun func(onProgress func(processed, total int), retryOnly bool) Regenerator) *RegenerateHandler {
	return &RegenerateHandler{jobs: jobs, newRun: newRun}
}

type regenerateRequest struct {
	// RetryOnly limits the run to entities without a usable descriptor.
	RetryOnly bool `json:"retry_only"`
}

// Start handles POST /api/v1/regenerate. The body is optional; an empty body
// regenerates the whole corpus.
func (h *RegenerateHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}

	if h.jobs.Running() {
		respondError(w, http.StatusConflict, "a regeneration run is already in progress")
		return
	}

	job, ctx := h.jobs.Start()
	run := h.newRun(job.SetProgress, req.RetryOnly)

	go func() {
		report, err := run.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("regeneration job %s failed: %v", job.ID, err)
		}
		job.Finish(report, err)
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// Status handles GET /api/v1/regenerate/{jobId}.
func (h *RegenerateHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.Get(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Cancel handles DELETE /api/v1/regenerate/{jobId}.
func (h *RegenerateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.Get(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "id": job.ID})
}
