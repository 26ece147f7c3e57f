package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carmatch/meetguard/libs/auth"
	"github.com/carmatch/meetguard/services/notification-service/internal/delivery"
	"github.com/carmatch/meetguard/services/notification-service/internal/push"
	"github.com/carmatch/meetguard/services/notification-service/internal/storage"
)

func newHandler() (*Handler, *storage.MemoryStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	return New(delivery.NewProcessor(store, push.NewNoopSender(), logger), store, "ingest-token", logger), store
}

func ingest(h *Handler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/notifications", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rw := httptest.NewRecorder()
	h.Ingest(rw, req)
	return rw
}

func TestIngest(t *testing.T) {
	h, _ := newHandler()
	body := `{"dispatch_id":"d-1","user_id":"buyer","title":"Meeting tomorrow","body":"IKEA at 10:00"}`

	tests := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{name: "bad token", token: "nope", body: body, want: http.StatusUnauthorized},
		{name: "bad json", token: "ingest-token", body: "{", want: http.StatusBadRequest},
		{name: "missing user", token: "ingest-token", body: `{"dispatch_id":"d-0","title":"x"}`, want: http.StatusBadRequest},
		{name: "accepted", token: "ingest-token", body: body, want: http.StatusAccepted},
		{name: "duplicate", token: "ingest-token", body: body, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rw := ingest(h, tt.token, tt.body); rw.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rw.Code, rw.Body.String())
			}
		})
	}
}

func TestListAndMarkRead(t *testing.T) {
	h, store := newHandler()
	for i := 1; i <= 3; i++ {
		body := fmt.Sprintf(`{"dispatch_id":"d-%d","user_id":"buyer","title":"n%d"}`, i, i)
		if rw := ingest(h, "ingest-token", body); rw.Code != http.StatusAccepted {
			t.Fatalf("ingest %d: %d", i, rw.Code)
		}
	}
	ingest(h, "ingest-token", `{"dispatch_id":"d-x","user_id":"seller","title":"other"}`)

	items, _ := store.ListForUser(context.Background(), "buyer", false, 10)
	target := items[0].ID

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read", strings.NewReader(fmt.Sprintf(`{"id":%d}`, target)))
	req.Header.Set(auth.UserIDHeader, "seller")
	rw := httptest.NewRecorder()
	h.MarkRead(rw, req)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("marking another user's notification must be 404, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read", strings.NewReader(fmt.Sprintf(`{"id":%d}`, target)))
	req.Header.Set(auth.UserIDHeader, "buyer")
	rw = httptest.NewRecorder()
	h.MarkRead(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unread=true&limit=10", nil)
	req.Header.Set(auth.UserIDHeader, "buyer")
	rw = httptest.NewRecorder()
	h.List(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var out struct {
		Items []storage.Notification `json:"items"`
	}
	if err := json.NewDecoder(rw.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("expected 2 unread, got %d", len(out.Items))
	}
	for _, n := range out.Items {
		if n.UserID != "buyer" || n.ID == target {
			t.Fatalf("unexpected item %+v", n)
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rw = httptest.NewRecorder()
	h.List(rw, req)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rw.Code)
	}
}
