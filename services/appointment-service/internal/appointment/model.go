package appointment

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	// StatusFinished is reached only by the live safety monitor giving up on
	// an unresponsive meeting.
	StatusFinished Status = "FINISHED"
	// StatusEmergency is reached only through an SOS safety response.
	StatusEmergency Status = "EMERGENCY"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted, StatusFinished, StatusEmergency:
		return s, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted, StatusFinished, StatusEmergency:
		return true
	}
	return false
}

// Milestone tag namespaces. The two ladders never share a tag.
const (
	ReminderTagPrefix   = "reminder:"
	EscalationTagPrefix = "escalation:"
)

// ReminderTag names the reminder milestone for an offset before the meeting,
// e.g. 24h -> "reminder:24h".
func ReminderTag(offset time.Duration) string {
	return ReminderTagPrefix + OffsetLabel(offset)
}

func EscalationTag(label string) string {
	return EscalationTagPrefix + label
}

// OffsetLabel renders whole hours as "24h" and anything else in minutes.
func OffsetLabel(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int64(d/time.Minute))
}

type Appointment struct {
	ID             string
	ConversationID string
	ProposerID     string

	Date      time.Time
	Location  string
	Address   string
	Latitude  float64
	Longitude float64

	Status Status

	MonitoringActive    bool
	LastSafetyCheck     *time.Time
	MissedResponseCount int
	NotifiedMilestones  []string

	// Version increments on every persisted write and guards concurrent
	// read-modify-write cycles.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) HasMilestone(tag string) bool {
	return slices.Contains(a.NotifiedMilestones, tag)
}

// AddMilestone appends tag unless already present and reports whether it did.
func (a *Appointment) AddMilestone(tag string) bool {
	if a.HasMilestone(tag) {
		return false
	}
	a.NotifiedMilestones = append(a.NotifiedMilestones, tag)
	return true
}

// Clone returns a copy that shares no mutable state with a.
func (a Appointment) Clone() Appointment {
	out := a
	out.NotifiedMilestones = slices.Clone(a.NotifiedMilestones)
	if a.LastSafetyCheck != nil {
		t := *a.LastSafetyCheck
		out.LastSafetyCheck = &t
	}
	return out
}

// StopMonitoring clears the live loop state when leaving ACCEPTED.
func (a *Appointment) StopMonitoring() {
	a.MonitoringActive = false
}

// MarkSafe records an explicit liveness answer from a participant.
func (a *Appointment) MarkSafe(now time.Time) {
	a.MissedResponseCount = 0
	a.LastSafetyCheck = &now
}
