package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes. Unknown errors are
// logged and reported as 500 without leaking details.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validation *appointment.ValidationError
		authz      *appointment.AuthorizationError
		transition *appointment.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Reason, Field: validation.Field})
	case errors.As(err, &authz):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: authz.Error()})
	case errors.Is(err, appointment.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, errorResponse{Error: transition.Error()})
	case errors.Is(err, appointment.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "appointment was modified, retry"})
	default:
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
