// Package api exposes the orchestrator over HTTP: job submission and
// queries as a thin JSON layer, plus a Server-Sent Events stream of
// job lifecycle events. Auth, billing, and the rest of the product's
// web surface live elsewhere.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medusavr/renderq/engine"
)

// API wires the HTTP handlers for a renderq engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API for the given engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.startGeneration)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Delete("/jobs/{jobID}", a.cancelJob)
		r.Get("/owners/{ownerID}/jobs", a.listOwnerJobs)
		r.Get("/events", a.streamEvents)
	})
	return r
}
