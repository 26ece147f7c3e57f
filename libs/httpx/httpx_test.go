package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a", now) {
		t.Fatal("third request inside the window should be rejected")
	}
	if !rl.allow("b", now) {
		t.Fatal("other keys have their own bucket")
	}
	if !rl.allow("a", now.Add(time.Minute)) {
		t.Fatal("bucket should reset after the window")
	}
}

func TestRateLimiterKeyFunc(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, func(r *http.Request) string { return r.Header.Get("X-User-Id") })
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-Id", "user-1")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rw.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if got := rw.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not get CORS headers")
	}
}

func TestChainSkipsNilAndKeepsRequestID(t *testing.T) {
	var seen string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}), WithRequestID, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if seen != "req-42" || rw.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rw.Header().Get(RequestIDHeader))
	}
}
