package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("notification not found")
	ErrDuplicate = errors.New("notification already stored")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is one in-app inbox entry. DispatchID is unique so a request
// delivered twice is stored once.
type Notification struct {
	ID         int64      `json:"id"`
	DispatchID string     `json:"dispatch_id"`
	UserID     string     `json:"user_id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	DeepLink   string     `json:"deep_link,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	Status     Status     `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
}

type Store interface {
	// Insert returns ErrDuplicate when DispatchID is already stored.
	Insert(ctx context.Context, n *Notification) error
	SetStatus(ctx context.Context, id int64, status Status, lastError string) error
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	// MarkRead returns ErrNotFound unless the notification belongs to userID.
	MarkRead(ctx context.Context, userID string, id int64, at time.Time) error
}
