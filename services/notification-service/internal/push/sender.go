// Package push forwards stored notifications to the device push gateway.
package push

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

type Message struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	URL      string `json:"url,omitempty"`
	Tag      string `json:"tag,omitempty"`
	Priority string `json:"priority"`
}

type Sender interface {
	Send(ctx context.Context, m Message) error
	ProviderID() string
}

// ErrNoDevices is returned when the gateway knows no live device for the user
// (404 or 410). The in-app copy still exists, so callers treat it as delivered.
var ErrNoDevices = errors.New("no registered push devices")

type WebhookSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSender(url string, token string) *WebhookSender {
	return &WebhookSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (s *WebhookSender) ProviderID() string {
	return "push-webhook"
}

func (s *WebhookSender) Send(ctx context.Context, m Message) error {
	if s.url == "" {
		return errors.New("push webhook url not configured")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return ErrNoDevices
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push webhook returned %d", resp.StatusCode)
	}
	return nil
}

type NoopSender struct{}

func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) ProviderID() string {
	return "push-noop"
}

func (s *NoopSender) Send(context.Context, Message) error {
	return nil
}

// PriorityFor marks safety traffic as high priority so gateways deliver it
// immediately.
func PriorityFor(tag string) string {
	if strings.HasPrefix(tag, "safety-check-") || strings.HasPrefix(tag, "emergency-") {
		return "high"
	}
	return "normal"
}
