// Package notify is the outbound notification port. Dispatchers deliver a
// single notification to one user; BestEffort wraps any Dispatcher so that
// callers in the state machine and the periodic jobs never fail because of it.
package notify

import (
	"context"
	"fmt"
)

// Notification is one message for one recipient. Tag lets clients collapse
// repeated notices (for example every liveness probe for the same meeting).
type Notification struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	DeepLink string `json:"deep_link,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Sender is what domain code depends on: fire and report, never error.
type Sender interface {
	Send(ctx context.Context, n Notification) bool
}

// DispatchError reports a failed delivery. It is always non-fatal to callers.
type DispatchError struct {
	Channel string
	UserID  string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch via %s to %s: %v", e.Channel, e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }
