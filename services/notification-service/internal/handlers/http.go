package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/services/notification-service/internal/delivery"
	"github.com/carmatch/meetguard/services/notification-service/internal/dispatch"
	"github.com/carmatch/meetguard/services/notification-service/internal/storage"
)

type Handler struct {
	processor   *delivery.Processor
	store       storage.Store
	ingestToken string
	logger      *slog.Logger
}

func New(processor *delivery.Processor, store storage.Store, ingestToken string, logger *slog.Logger) *Handler {
	return &Handler{processor: processor, store: store, ingestToken: ingestToken, logger: logger}
}

type ingestResponse struct {
	DispatchID string `json:"dispatch_id"`
	Result     string `json:"result"`
}

type markReadRequest struct {
	ID int64 `json:"id"`
}

// Ingest accepts dispatch requests posted by the appointment-service webhook
// dispatcher.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.ingestAuthorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dispatch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	result, err := h.processor.Handle(r.Context(), req)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(r.Context(), "ingest failed", "err", err)
		http.Error(w, "failed to store notification", http.StatusInternalServerError)
		return
	}
	status := http.StatusAccepted
	if result == delivery.ResultDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{DispatchID: req.DispatchID, Result: string(result)})
}

// List returns the caller's inbox, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get(auth.UserIDHeader))
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			http.Error(w, "limit must be between 1 and 200", http.StatusBadRequest)
			return
		}
		limit = n
	}
	unread := r.URL.Query().Get("unread") == "true"
	items, err := h.store.ListForUser(r.Context(), userID, unread, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list notifications", "err", err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []storage.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.Header.Get(auth.UserIDHeader))
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID <= 0 {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := h.store.MarkRead(r.Context(), userID, req.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), "mark notification read", "err", err)
		http.Error(w, "failed to update notification", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ingestAuthorized(r *http.Request) bool {
	if h.ingestToken == "" {
		return false
	}
	got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.ingestToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
