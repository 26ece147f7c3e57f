// Package notifytest provides an in-memory notify.Dispatcher for tests.
package notifytest

import (
	"context"
	"errors"
	"sync"

	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
)

var ErrInjected = errors.New("injected dispatch failure")

// Recorder records every dispatch attempt, including ones it fails.
type Recorder struct {
	mu       sync.Mutex
	attempts []notify.Notification
	failFor  map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{failFor: map[string]bool{}}
}

// FailFor makes every dispatch to userID return a DispatchError.
func (r *Recorder) FailFor(userID string) {
	r.mu.Lock()
	r.failFor[userID] = true
	r.mu.Unlock()
}

func (r *Recorder) Dispatch(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, n)
	if r.failFor[n.UserID] {
		return &notify.DispatchError{Channel: "test", UserID: n.UserID, Err: ErrInjected}
	}
	return nil
}

func (r *Recorder) Attempts() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Notification, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}

// ForUser returns the attempts addressed to userID in order.
func (r *Recorder) ForUser(userID string) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.attempts {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.attempts = nil
	r.mu.Unlock()
}
