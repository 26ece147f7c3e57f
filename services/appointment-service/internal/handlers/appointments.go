package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
)

type AppointmentHandler struct {
	svc    *appointment.Service
	logger *slog.Logger
}

func NewAppointmentHandler(svc *appointment.Service, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{svc: svc, logger: logger}
}

type appointmentResponse struct {
	ID                  string     `json:"id"`
	ConversationID      string     `json:"conversation_id"`
	ProposerID          string     `json:"proposer_id"`
	Date                time.Time  `json:"date"`
	Location            string     `json:"location"`
	Address             string     `json:"address,omitempty"`
	Latitude            float64    `json:"latitude,omitempty"`
	Longitude           float64    `json:"longitude,omitempty"`
	Status              string     `json:"status"`
	MonitoringActive    bool       `json:"monitoring_active"`
	LastSafetyCheck     *time.Time `json:"last_safety_check,omitempty"`
	MissedResponseCount int        `json:"missed_response_count"`
	NotifiedMilestones  []string   `json:"notified_milestones"`
	Version             int64      `json:"version"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toResponse(a appointment.Appointment) appointmentResponse {
	milestones := a.NotifiedMilestones
	if milestones == nil {
		milestones = []string{}
	}
	return appointmentResponse{
		ID:                  a.ID,
		ConversationID:      a.ConversationID,
		ProposerID:          a.ProposerID,
		Date:                a.Date,
		Location:            a.Location,
		Address:             a.Address,
		Latitude:            a.Latitude,
		Longitude:           a.Longitude,
		Status:              string(a.Status),
		MonitoringActive:    a.MonitoringActive,
		LastSafetyCheck:     a.LastSafetyCheck,
		MissedResponseCount: a.MissedResponseCount,
		NotifiedMilestones:  milestones,
		Version:             a.Version,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type createAppointmentRequest struct {
	ConversationID string  `json:"conversation_id"`
	Date           string  `json:"date"`
	Location       string  `json:"location"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

type updateStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type rescheduleRequest struct {
	AppointmentID string   `json:"appointment_id"`
	Date          *string  `json:"date"`
	Location      *string  `json:"location"`
	Address       *string  `json:"address"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

type safetyCheckRequest struct {
	AppointmentID string `json:"appointment_id"`
	Response      string `json:"response"`
}

// Collection serves POST (propose) and GET (read by id or conversation).
func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.read(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req createAppointmentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.svc.Propose(r.Context(), appointment.ProposeInput{
		ConversationID: req.ConversationID,
		ProposerID:     actor,
		Date:           date,
		Location:       req.Location,
		Address:        req.Address,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(a))
}

func (h *AppointmentHandler) read(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("appointment_id")); id != "" {
		a, err := h.svc.Get(r.Context(), id, actor)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(a))
		return
	}
	convID := strings.TrimSpace(q.Get("conversation_id"))
	if convID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "appointment_id or conversation_id is required"})
		return
	}
	list, err := h.svc.ListByConversation(r.Context(), convID, actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]appointmentResponse, 0, len(list))
	for _, a := range list {
		items = append(items, toResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := appointment.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.svc.UpdateStatus(r.Context(), strings.TrimSpace(req.AppointmentID), actor, target)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	in := appointment.RescheduleInput{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		ActorID:       actor,
		Location:      req.Location,
		Address:       req.Address,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
	}
	if req.Date != nil {
		date, err := parseDate(*req.Date)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		in.Date = &date
	}
	a, err := h.svc.Reschedule(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

func (h *AppointmentHandler) SafetyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req safetyCheckRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := appointment.ParseSafetyResponse(req.Response)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	a, err := h.svc.RespondToSafetyCheck(r.Context(), strings.TrimSpace(req.AppointmentID), actor, resp)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

// actorID reads the subject set by auth.RequireAuth.
func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(auth.UserIDHeader))
	if id == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, &appointment.ValidationError{Field: "date", Reason: "must be an RFC3339 timestamp"}
	}
	return t, nil
}
