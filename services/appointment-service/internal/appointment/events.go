package appointment

import (
	"encoding/json"
	"time"
)

// Domain event types, published through the outbox with the type as topic.
const (
	EventProposed          = "appointment.proposed.v1"
	EventStatusChanged     = "appointment.status_changed.v1"
	EventRescheduled       = "appointment.rescheduled.v1"
	EventSafetyResponded   = "appointment.safety_responded.v1"
	EventMilestoneNotified = "appointment.milestone_notified.v1"
	EventMonitoringStarted = "appointment.monitoring_started.v1"
	EventSafetyCheckSent   = "appointment.safety_check_sent.v1"
	EventAutoFinished      = "appointment.auto_finished.v1"
)

type Event struct {
	Type          string
	AppointmentID string
	Payload       []byte
}

type eventPayload struct {
	AppointmentID       string    `json:"appointment_id"`
	ConversationID      string    `json:"conversation_id"`
	ProposerID          string    `json:"proposer_id"`
	ActorID             string    `json:"actor_id,omitempty"`
	Status              Status    `json:"status"`
	Date                time.Time `json:"date"`
	Location            string    `json:"location"`
	MonitoringActive    bool      `json:"monitoring_active"`
	MissedResponseCount int       `json:"missed_response_count"`
	Detail              string    `json:"detail,omitempty"`
	Version             int64     `json:"version"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// NewEvent snapshots a after the change it describes. actorID is empty for
// changes made by the periodic jobs; detail carries a milestone tag or
// safety response when relevant.
func NewEvent(eventType string, a Appointment, actorID, detail string) Event {
	raw, _ := json.Marshal(eventPayload{
		AppointmentID:       a.ID,
		ConversationID:      a.ConversationID,
		ProposerID:          a.ProposerID,
		ActorID:             actorID,
		Status:              a.Status,
		Date:                a.Date.UTC(),
		Location:            a.Location,
		MonitoringActive:    a.MonitoringActive,
		MissedResponseCount: a.MissedResponseCount,
		Detail:              detail,
		Version:             a.Version + 1,
		OccurredAt:          a.UpdatedAt.UTC(),
	})
	return Event{Type: eventType, AppointmentID: a.ID, Payload: raw}
}
