package appointment

import (
	"context"
	"time"
)

// Store persists appointments. Update is optimistic: it succeeds only when
// a.Version still matches the stored row, then bumps a.Version. Events are
// written atomically with the row.
type Store interface {
	Create(ctx context.Context, a *Appointment, events ...Event) error
	Get(ctx context.Context, id string) (Appointment, error)
	ListByConversation(ctx context.Context, conversationID string) ([]Appointment, error)
	ListByStatus(ctx context.Context, status Status) ([]Appointment, error)
	// ListDateBetween returns appointments in status whose date is in [from, to).
	ListDateBetween(ctx context.Context, status Status, from, to time.Time) ([]Appointment, error)
	Update(ctx context.Context, a *Appointment, events ...Event) error
	// RecordReminder claims (appointmentID, milestone) and reports whether
	// this call was the first to do so.
	RecordReminder(ctx context.Context, appointmentID, milestone string, at time.Time) (bool, error)
}
