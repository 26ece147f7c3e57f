package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrConflict means the row changed between read and write.
	ErrConflict = errors.New("appointment modified concurrently")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

type AuthorizationError struct {
	ActorID string
	Action  string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %q may not %s", e.ActorID, e.Action)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
