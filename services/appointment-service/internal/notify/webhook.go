package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookDispatcher posts a DispatchRequest as JSON, typically to the
// notification-service ingest endpoint or directly to a push gateway.
type WebhookDispatcher struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookDispatcher(url, token string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if s.url == "" {
		return &DispatchError{Channel: "webhook", UserID: n.UserID, Err: errors.New("push webhook url not configured")}
	}
	raw, err := json.Marshal(newDispatchRequest(n, time.Now()))
	if err != nil {
		return &DispatchError{Channel: "webhook", UserID: n.UserID, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return &DispatchError{Channel: "webhook", UserID: n.UserID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return &DispatchError{Channel: "webhook", UserID: n.UserID, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DispatchError{Channel: "webhook", UserID: n.UserID, Err: fmt.Errorf("push webhook returned %d", resp.StatusCode)}
	}
	return nil
}
