package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/job"
)

const defaultListLimit = 50

// ──────────────────────────────────────────────────
// Health and stats
// ──────────────────────────────────────────────────

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	h, err := a.svc.HealthCheck(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, h)
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.GetStats(r.Context(), "")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *API) queueStats(w http.ResponseWriter, r *http.Request) {
	queueName := queueParam(r)
	stats, err := a.svc.GetStats(r.Context(), queueName)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, stats[queueName])
}

// ──────────────────────────────────────────────────
// Job inspection
// ──────────────────────────────────────────────────

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	state, err := job.ParseState(r.URL.Query().Get("state"))
	if err != nil {
		a.badRequest(w, err.Error())
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	jobs, err := a.svc.ListJobs(r.Context(), state, job.ListOpts{
		Limit:  limit,
		Offset: offset,
		Queue:  queueParam(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	a.writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid job ID: %v", err))
		return
	}

	j, err := a.svc.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, j)
}

// ──────────────────────────────────────────────────
// Job control
// ──────────────────────────────────────────────────

type retryResponse struct {
	Retried bool `json:"retried"`
}

func (a *API) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid job ID: %v", err))
		return
	}

	ok, err := a.svc.RetryJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, retryResponse{Retried: ok})
}

func (a *API) removeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		a.badRequest(w, fmt.Sprintf("invalid job ID: %v", err))
		return
	}

	if err := a.svc.RemoveJob(r.Context(), jobID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ──────────────────────────────────────────────────
// Queue control
// ──────────────────────────────────────────────────

func (a *API) pauseQueue(w http.ResponseWriter, r *http.Request) {
	a.svc.PauseQueue(r.Context(), queueParam(r))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) resumeQueue(w http.ResponseWriter, r *http.Request) {
	a.svc.ResumeQueue(r.Context(), queueParam(r))
	w.WriteHeader(http.StatusNoContent)
}

type cleanRequest struct {
	// OlderThan is a Go duration string, e.g. "24h". Empty means clean
	// regardless of age.
	OlderThan string   `json:"older_than,omitempty"`
	States    []string `json:"states,omitempty"`
}

type cleanResponse struct {
	Removed int64 `json:"removed"`
}

func (a *API) cleanQueue(w http.ResponseWriter, r *http.Request) {
	var req cleanRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.badRequest(w, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	var olderThan time.Duration
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			a.badRequest(w, fmt.Sprintf("invalid older_than: %v", err))
			return
		}
		olderThan = d
	}

	states := make([]job.State, 0, len(req.States))
	for _, raw := range req.States {
		state, err := job.ParseState(raw)
		if err != nil {
			a.badRequest(w, err.Error())
			return
		}
		states = append(states, state)
	}

	removed, err := a.svc.CleanQueue(r.Context(), queueParam(r), olderThan, states...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cleanResponse{Removed: removed})
}

type retryFailedResponse struct {
	Retried int64 `json:"retried"`
}

func (a *API) retryFailed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)

	n, err := a.svc.RetryAllFailed(r.Context(), queueParam(r), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, retryFailedResponse{Retried: n})
}

// ──────────────────────────────────────────────────
// Query helpers
// ──────────────────────────────────────────────────

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
