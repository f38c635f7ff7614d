package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medusavr/renderq"
	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

// startGenerationRequest is the POST /v1/jobs body.
type startGenerationRequest struct {
	OwnerID string      `json:"owner_id"`
	Request job.Request `json:"request"`
}

type startGenerationResponse struct {
	JobID string `json:"job_id"`
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) startGeneration(w http.ResponseWriter, r *http.Request) {
	var body startGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	jobID, err := a.eng.StartGeneration(r.Context(), body.OwnerID, body.Request)
	if err != nil {
		if errors.Is(err, renderq.ErrInvalidRequest) {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("start generation failed", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "could not queue job")
		return
	}

	a.writeJSON(w, http.StatusAccepted, startGenerationResponse{JobID: jobID.String()})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := a.eng.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, renderq.ErrJobNotFound) {
			a.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		a.logger.Error("get job failed", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}

	a.writeJSON(w, http.StatusOK, j)
}

func (a *API) listOwnerJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		a.writeError(w, http.StatusBadRequest, "owner id required")
		return
	}

	jobs, err := a.eng.GetJobsForOwner(r.Context(), ownerID)
	if err != nil {
		a.logger.Error("list owner jobs failed", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}

	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		a.writeError(w, http.StatusBadRequest, "owner_id query parameter required")
		return
	}

	cancelled := a.eng.CancelJob(r.Context(), jobID, ownerID)
	a.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: cancelled})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("write response failed", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}
