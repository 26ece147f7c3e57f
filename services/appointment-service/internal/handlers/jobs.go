package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carmatch/meetguard/services/appointment-service/internal/jobs"
)

const jobsPathPrefix = "/internal/jobs/"

type JobRunner interface {
	RunNow(ctx context.Context, name string) (any, error)
}

// JobsHandler triggers one pass of a periodic job. Callers authenticate with
// the shared cron secret as a bearer token.
type JobsHandler struct {
	runner JobRunner
	secret string
	logger *slog.Logger
}

func NewJobsHandler(runner JobRunner, secret string, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{runner: runner, secret: secret, logger: logger}
}

type jobRunResponse struct {
	Job    string `json:"job"`
	Report any    `json:"report,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (h *JobsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, jobsPathPrefix), "/")
	if name == "" {
		http.Error(w, "job name required", http.StatusNotFound)
		return
	}

	report, err := h.runner.RunNow(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, jobRunResponse{Job: name, Report: report})
	case errors.Is(err, jobs.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, jobRunResponse{Job: name, Error: err.Error()})
	case errors.Is(err, jobs.ErrBusy), errors.Is(err, jobs.ErrLeaseHeld):
		writeJSON(w, http.StatusConflict, jobRunResponse{Job: name, Error: err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), "manual job run failed", "job", name, "err", err)
		writeJSON(w, http.StatusInternalServerError, jobRunResponse{Job: name, Report: report, Error: "job finished with errors"})
	}
}

func (h *JobsHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}
