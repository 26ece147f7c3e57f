package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/jobs"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify/notifytest"
	"github.com/carmatch/meetguard/services/appointment-service/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testServer struct {
	mux   *http.ServeMux
	rec   *notifytest.Recorder
	clock *clock.Fake
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := discardLogger()
	rec := notifytest.NewRecorder()
	clk := clock.NewFake(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC))
	convs := conversation.NewStatic(conversation.Conversation{
		ID: "conv-1", BuyerID: "buyer", SellerID: "seller", Subject: "Volvo V70", ListingActive: true,
	})
	svc := appointment.NewService(storage.NewMemoryStore(), convs, notify.NewBestEffort(rec, logger, notify.Options{}), clk, logger)
	h := NewAppointmentHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/appointments", h.Collection)
	mux.HandleFunc("/api/v1/appointments/status", h.UpdateStatus)
	mux.HandleFunc("/api/v1/appointments/reschedule", h.Reschedule)
	mux.HandleFunc("/api/v1/appointments/safety-check", h.SafetyCheck)
	return &testServer{mux: mux, rec: rec, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(auth.UserIDHeader, actor)
	}
	rw := httptest.NewRecorder()
	s.mux.ServeHTTP(rw, req)
	return rw
}

func decodeAppointment(t *testing.T, rw *httptest.ResponseRecorder) appointmentResponse {
	t.Helper()
	var out appointmentResponse
	if err := json.NewDecoder(rw.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (s *testServer) propose(t *testing.T) appointmentResponse {
	t.Helper()
	rw := s.do(t, http.MethodPost, "/api/v1/appointments", "buyer", map[string]any{
		"conversation_id": "conv-1",
		"date":            s.clock.Now().Add(48 * time.Hour).Format(time.RFC3339),
		"location":        "IKEA parking lot",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	return decodeAppointment(t, rw)
}

func TestProposeAndAccept(t *testing.T) {
	s := newTestServer(t)
	created := s.propose(t)
	if created.Status != "PENDING" || created.ProposerID != "buyer" {
		t.Fatalf("unexpected created appointment %+v", created)
	}
	if len(s.rec.ForUser("seller")) != 1 {
		t.Fatalf("expected seller notified of proposal")
	}

	rw := s.do(t, http.MethodPost, "/api/v1/appointments/status", "buyer", map[string]string{
		"appointment_id": created.ID, "status": "ACCEPTED",
	})
	if rw.Code != http.StatusForbidden {
		t.Fatalf("proposer accepting must be 403, got %d", rw.Code)
	}

	rw = s.do(t, http.MethodPost, "/api/v1/appointments/status", "seller", map[string]string{
		"appointment_id": created.ID, "status": "accepted",
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if got := decodeAppointment(t, rw); got.Status != "ACCEPTED" {
		t.Fatalf("expected ACCEPTED, got %s", got.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	created := s.propose(t)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		want   int
	}{
		{name: "no actor", method: http.MethodGet, path: "/api/v1/appointments?appointment_id=" + created.ID, want: http.StatusUnauthorized},
		{name: "stranger read", method: http.MethodGet, path: "/api/v1/appointments?appointment_id=" + created.ID, actor: "stranger", want: http.StatusForbidden},
		{name: "missing id", method: http.MethodGet, path: "/api/v1/appointments?appointment_id=nope", actor: "buyer", want: http.StatusNotFound},
		{name: "no query", method: http.MethodGet, path: "/api/v1/appointments", actor: "buyer", want: http.StatusBadRequest},
		{name: "bad date", method: http.MethodPost, path: "/api/v1/appointments", actor: "buyer", body: map[string]string{"conversation_id": "conv-1", "date": "tomorrow", "location": "x"}, want: http.StatusBadRequest},
		{name: "unknown status", method: http.MethodPost, path: "/api/v1/appointments/status", actor: "seller", body: map[string]string{"appointment_id": created.ID, "status": "MAYBE"}, want: http.StatusBadRequest},
		{name: "invalid transition", method: http.MethodPost, path: "/api/v1/appointments/status", actor: "seller", body: map[string]string{"appointment_id": created.ID, "status": "COMPLETED"}, want: http.StatusConflict},
		{name: "safety check on pending", method: http.MethodPost, path: "/api/v1/appointments/safety-check", actor: "seller", body: map[string]string{"appointment_id": created.ID, "response": "SOS"}, want: http.StatusConflict},
		{name: "wrong method", method: http.MethodGet, path: "/api/v1/appointments/status", actor: "seller", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := s.do(t, tt.method, tt.path, tt.actor, tt.body)
			if rw.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rw.Code, rw.Body.String())
			}
		})
	}
}

func TestListAndReschedule(t *testing.T) {
	s := newTestServer(t)
	created := s.propose(t)

	newDate := s.clock.Now().Add(72 * time.Hour).Format(time.RFC3339)
	rw := s.do(t, http.MethodPost, "/api/v1/appointments/reschedule", "seller", map[string]any{
		"appointment_id": created.ID,
		"date":           newDate,
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	got := decodeAppointment(t, rw)
	if got.ProposerID != "seller" || got.Status != "PENDING" || got.Location != "IKEA parking lot" {
		t.Fatalf("unexpected rescheduled appointment %+v", got)
	}

	rw = s.do(t, http.MethodGet, "/api/v1/appointments?conversation_id=conv-1", "buyer", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var list struct {
		Items []appointmentResponse `json:"items"`
	}
	if err := json.NewDecoder(rw.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list.Items)
	}
}

func TestSafetyCheckSOS(t *testing.T) {
	s := newTestServer(t)
	created := s.propose(t)
	s.do(t, http.MethodPost, "/api/v1/appointments/status", "seller", map[string]string{"appointment_id": created.ID, "status": "ACCEPTED"})
	s.rec.Reset()

	rw := s.do(t, http.MethodPost, "/api/v1/appointments/safety-check", "buyer", map[string]string{
		"appointment_id": created.ID, "response": "sos",
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	if got := decodeAppointment(t, rw); got.Status != "EMERGENCY" {
		t.Fatalf("expected EMERGENCY, got %s", got.Status)
	}
	if len(s.rec.ForUser("seller")) != 1 {
		t.Fatalf("expected seller alerted")
	}
}

type stubRunner struct {
	report any
	err    error
	names  []string
}

func (s *stubRunner) RunNow(_ context.Context, name string) (any, error) {
	s.names = append(s.names, name)
	return s.report, s.err
}

func TestJobsTrigger(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		auth   string
		path   string
		err    error
		want   int
	}{
		{name: "ok", secret: "s3cret", auth: "Bearer s3cret", path: "/internal/jobs/reminders", want: http.StatusOK},
		{name: "wrong secret", secret: "s3cret", auth: "Bearer nope", path: "/internal/jobs/reminders", want: http.StatusUnauthorized},
		{name: "disabled", secret: "", auth: "Bearer ", path: "/internal/jobs/reminders", want: http.StatusUnauthorized},
		{name: "unknown", secret: "s3cret", auth: "Bearer s3cret", path: "/internal/jobs/other", err: jobs.ErrUnknownJob, want: http.StatusNotFound},
		{name: "busy", secret: "s3cret", auth: "Bearer s3cret", path: "/internal/jobs/monitor", err: jobs.ErrBusy, want: http.StatusConflict},
		{name: "failed", secret: "s3cret", auth: "Bearer s3cret", path: "/internal/jobs/monitor", err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{report: map[string]int{"sent": 2}, err: tt.err}
			h := NewJobsHandler(runner, tt.secret, discardLogger())
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set("Authorization", tt.auth)
			rw := httptest.NewRecorder()
			h.Trigger(rw, req)
			if rw.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rw.Code, rw.Body.String())
			}
		})
	}
}

func TestJobsTriggerRunsNamedJob(t *testing.T) {
	runner := &stubRunner{report: map[string]int{"sent": 2}}
	h := NewJobsHandler(runner, "s3cret", discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/monitor", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rw := httptest.NewRecorder()
	h.Trigger(rw, req)

	if len(runner.names) != 1 || runner.names[0] != "monitor" {
		t.Fatalf("expected monitor run, got %v", runner.names)
	}
	var out jobRunResponse
	if err := json.NewDecoder(rw.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Job != "monitor" || out.Report == nil {
		t.Fatalf("unexpected response %+v", out)
	}
}
