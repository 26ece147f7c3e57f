// Package dispatch holds the inbound notification request shared by the
// Kafka consumer and the HTTP ingest endpoint.
package dispatch

import (
	"errors"
	"strings"
	"time"
)

const Topic = "notification.dispatch.requested.v1"

// Request mirrors the payload appointment-service publishes.
type Request struct {
	DispatchID  string    `json:"dispatch_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	DeepLink    string    `json:"deep_link,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

var ErrInvalid = errors.New("invalid dispatch request")

type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string { return "invalid dispatch request: missing " + e.Field }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Normalize trims the request and checks required fields.
func (r *Request) Normalize() error {
	r.DispatchID = strings.TrimSpace(r.DispatchID)
	r.UserID = strings.TrimSpace(r.UserID)
	r.Title = strings.TrimSpace(r.Title)
	r.DeepLink = strings.TrimSpace(r.DeepLink)
	r.Tag = strings.TrimSpace(r.Tag)
	switch {
	case r.DispatchID == "":
		return &ValidationError{Field: "dispatch_id"}
	case r.UserID == "":
		return &ValidationError{Field: "user_id"}
	case r.Title == "":
		return &ValidationError{Field: "title"}
	}
	if r.RequestedAt.IsZero() {
		r.RequestedAt = time.Now().UTC()
	}
	return nil
}
