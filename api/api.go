// Package api exposes the admin control surface over HTTP. Routes are
// JSON in, JSON out, with sentinel errors mapped to HTTP status codes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/admin"
	"github.com/IT-For-Youth-Ghana/relayq/id"
)

// API wires the admin service into an HTTP router.
type API struct {
	svc    *admin.Service
	logger *slog.Logger
}

// New creates an API over an admin service.
func New(svc *admin.Service, logger *slog.Logger) *API {
	return &API{svc: svc, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", a.health)
	r.Get("/stats", a.stats)
	r.Get("/stats/{queue}", a.queueStats)

	r.Route("/queues/{queue}", func(r chi.Router) {
		r.Get("/jobs", a.listJobs)
		r.Get("/jobs/{id}", a.getJob)
		r.Post("/jobs/{id}/retry", a.retryJob)
		r.Delete("/jobs/{id}", a.removeJob)

		r.Post("/pause", a.pauseQueue)
		r.Post("/resume", a.resumeQueue)
		r.Post("/clean", a.cleanQueue)
		r.Post("/retry-failed", a.retryFailed)
	})

	return r
}

// ──────────────────────────────────────────────────
// Response helpers
// ──────────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps sentinel errors to status codes and logs the rest.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, relayq.ErrJobNotFound), errors.Is(err, relayq.ErrQueueNotFound):
		status = http.StatusNotFound
	case errors.Is(err, relayq.ErrInvalidState), errors.Is(err, relayq.ErrJobAlreadyExists):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("admin request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	return id.ParseJobID(chi.URLParam(r, "id"))
}

func queueParam(r *http.Request) string {
	return chi.URLParam(r, "queue")
}
