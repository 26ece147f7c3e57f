// Package appointment holds the appointment record and the state machine
// that clients drive through the HTTP API. The periodic jobs in reminders and
// monitor share the record and Store but make their own transitions.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
	"github.com/google/uuid"
)

type Service struct {
	store  Store
	convs  conversation.Lookup
	sender notify.Sender
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(store Store, convs conversation.Lookup, sender notify.Sender, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: store, convs: convs, sender: sender, clock: clk, logger: logger}
}

type ProposeInput struct {
	ConversationID string
	ProposerID     string
	Date           time.Time
	Location       string
	Address        string
	Latitude       float64
	Longitude      float64
}

func (s *Service) Propose(ctx context.Context, in ProposeInput) (Appointment, error) {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.Location = strings.TrimSpace(in.Location)
	switch {
	case in.ConversationID == "":
		return Appointment{}, &ValidationError{Field: "conversation_id", Reason: "required"}
	case in.Date.IsZero():
		return Appointment{}, &ValidationError{Field: "date", Reason: "required"}
	case in.Location == "":
		return Appointment{}, &ValidationError{Field: "location", Reason: "required"}
	}

	conv, err := s.conversation(ctx, in.ConversationID)
	if err != nil {
		return Appointment{}, err
	}
	if !conv.IsParticipant(in.ProposerID) {
		return Appointment{}, &AuthorizationError{ActorID: in.ProposerID, Action: "propose a meeting in this conversation"}
	}
	if !conv.ListingActive {
		return Appointment{}, &ValidationError{Field: "conversation_id", Reason: "listing is no longer active"}
	}

	now := s.clock.Now()
	a := Appointment{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		ProposerID:     in.ProposerID,
		Date:           in.Date.UTC(),
		Location:       in.Location,
		Address:        strings.TrimSpace(in.Address),
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, &a, NewEvent(EventProposed, a, in.ProposerID, "")); err != nil {
		return Appointment{}, fmt.Errorf("create appointment: %w", err)
	}

	if to, ok := conv.Counterparty(in.ProposerID); ok {
		s.sender.Send(ctx, ProposalNotice(a, conv, to))
	}
	s.logger.InfoContext(ctx, "appointment proposed", "appointment_id", a.ID, "conversation_id", a.ConversationID)
	return a, nil
}

// UpdateStatus applies a participant-driven transition:
//
//	PENDING  -> ACCEPTED | REJECTED   counterparty of the proposer
//	PENDING  -> CANCELLED             proposer
//	ACCEPTED -> COMPLETED             either participant
//	ACCEPTED -> ACCEPTED              either participant, liveness answer while monitored
func (s *Service) UpdateStatus(ctx context.Context, id, actorID string, target Status) (Appointment, error) {
	a, conv, err := s.loadForParticipant(ctx, id, actorID, "update this appointment")
	if err != nil {
		return Appointment{}, err
	}

	if a.Status == StatusAccepted && target == StatusAccepted {
		return s.stillSafe(ctx, a, actorID)
	}
	if err := checkTransition(a, actorID, target); err != nil {
		return Appointment{}, err
	}
	if target == StatusAccepted && !conv.ListingActive {
		return Appointment{}, &ValidationError{Field: "status", Reason: "listing is no longer active"}
	}

	a.Status = target
	if target != StatusAccepted {
		a.StopMonitoring()
	}
	a.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, &a, NewEvent(EventStatusChanged, a, actorID, string(target))); err != nil {
		return Appointment{}, fmt.Errorf("update appointment status: %w", err)
	}

	if to, ok := conv.Counterparty(actorID); ok {
		s.sender.Send(ctx, StatusNotice(a, conv, to))
	}
	s.logger.InfoContext(ctx, "appointment status changed", "appointment_id", a.ID, "status", a.Status, "actor_id", actorID)
	return a, nil
}

func checkTransition(a Appointment, actorID string, target Status) error {
	invalid := &InvalidTransitionError{From: a.Status, To: target}
	switch a.Status {
	case StatusPending:
		switch target {
		case StatusAccepted, StatusRejected:
			if actorID == a.ProposerID {
				return &AuthorizationError{ActorID: actorID, Action: "answer their own proposal"}
			}
			return nil
		case StatusCancelled:
			if actorID != a.ProposerID {
				return &AuthorizationError{ActorID: actorID, Action: "cancel a proposal they did not make"}
			}
			return nil
		}
	case StatusAccepted:
		if target == StatusCompleted {
			return nil
		}
	}
	return invalid
}

func (s *Service) stillSafe(ctx context.Context, a Appointment, actorID string) (Appointment, error) {
	if !a.MonitoringActive {
		return Appointment{}, &InvalidTransitionError{From: a.Status, To: StatusAccepted}
	}
	now := s.clock.Now()
	a.MarkSafe(now)
	a.UpdatedAt = now
	if err := s.store.Update(ctx, &a, NewEvent(EventSafetyResponded, a, actorID, string(SafetyStillSafe))); err != nil {
		return Appointment{}, fmt.Errorf("record safety response: %w", err)
	}
	s.logger.InfoContext(ctx, "safety check answered", "appointment_id", a.ID, "actor_id", actorID)
	return a, nil
}

type RescheduleInput struct {
	AppointmentID string
	ActorID       string
	Date          *time.Time
	Location      *string
	Address       *string
	Latitude      *float64
	Longitude     *float64
}

func (in RescheduleInput) empty() bool {
	return in.Date == nil && in.Location == nil && in.Address == nil && in.Latitude == nil && in.Longitude == nil
}

// Reschedule lets either participant edit an open appointment. The edit is a
// new proposal by the editor: status returns to PENDING and the other party
// has to accept again.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (Appointment, error) {
	if in.empty() {
		return Appointment{}, &ValidationError{Reason: "nothing to change"}
	}
	if in.Date != nil && in.Date.IsZero() {
		return Appointment{}, &ValidationError{Field: "date", Reason: "must be a valid timestamp"}
	}
	if in.Location != nil && strings.TrimSpace(*in.Location) == "" {
		return Appointment{}, &ValidationError{Field: "location", Reason: "must not be blank"}
	}

	a, conv, err := s.loadForParticipant(ctx, in.AppointmentID, in.ActorID, "reschedule this appointment")
	if err != nil {
		return Appointment{}, err
	}
	if a.Status.Terminal() {
		return Appointment{}, &InvalidTransitionError{From: a.Status, To: StatusPending}
	}
	if !conv.ListingActive {
		return Appointment{}, &ValidationError{Field: "appointment_id", Reason: "listing is no longer active"}
	}

	if in.Date != nil {
		a.Date = in.Date.UTC()
	}
	if in.Location != nil {
		a.Location = strings.TrimSpace(*in.Location)
	}
	if in.Address != nil {
		a.Address = strings.TrimSpace(*in.Address)
	}
	if in.Latitude != nil {
		a.Latitude = *in.Latitude
	}
	if in.Longitude != nil {
		a.Longitude = *in.Longitude
	}
	a.Status = StatusPending
	a.ProposerID = in.ActorID
	a.StopMonitoring()
	a.MissedResponseCount = 0
	a.LastSafetyCheck = nil
	a.UpdatedAt = s.clock.Now()

	if err := s.store.Update(ctx, &a, NewEvent(EventRescheduled, a, in.ActorID, "")); err != nil {
		return Appointment{}, fmt.Errorf("reschedule appointment: %w", err)
	}
	if to, ok := conv.Counterparty(in.ActorID); ok {
		s.sender.Send(ctx, RescheduleNotice(a, conv, to))
	}
	s.logger.InfoContext(ctx, "appointment rescheduled", "appointment_id", a.ID, "actor_id", in.ActorID)
	return a, nil
}

type SafetyResponse string

const (
	SafetyStillSafe SafetyResponse = "STILL_SAFE"
	SafetyFinished  SafetyResponse = "FINISHED"
	SafetySOS       SafetyResponse = "SOS"
)

func ParseSafetyResponse(raw string) (SafetyResponse, error) {
	r := SafetyResponse(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case SafetyStillSafe, SafetyFinished, SafetySOS:
		return r, nil
	}
	return "", &ValidationError{Field: "response", Reason: fmt.Sprintf("unknown safety response %q", raw)}
}

// RespondToSafetyCheck records a participant's answer to a liveness probe.
// FINISHED closes the meeting as COMPLETED; SOS closes it as EMERGENCY and
// alerts the other participant.
func (s *Service) RespondToSafetyCheck(ctx context.Context, id, actorID string, resp SafetyResponse) (Appointment, error) {
	a, conv, err := s.loadForParticipant(ctx, id, actorID, "answer safety checks for this appointment")
	if err != nil {
		return Appointment{}, err
	}

	switch resp {
	case SafetyStillSafe:
		if a.Status != StatusAccepted {
			return Appointment{}, &InvalidTransitionError{From: a.Status, To: StatusAccepted}
		}
		return s.stillSafe(ctx, a, actorID)
	case SafetyFinished, SafetySOS:
	default:
		return Appointment{}, &ValidationError{Field: "response", Reason: fmt.Sprintf("unknown safety response %q", resp)}
	}

	target := StatusCompleted
	if resp == SafetySOS {
		target = StatusEmergency
	}
	if a.Status != StatusAccepted {
		return Appointment{}, &InvalidTransitionError{From: a.Status, To: target}
	}

	a.Status = target
	a.StopMonitoring()
	a.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, &a, NewEvent(EventSafetyResponded, a, actorID, string(resp))); err != nil {
		return Appointment{}, fmt.Errorf("record safety response: %w", err)
	}

	if to, ok := conv.Counterparty(actorID); ok {
		if resp == SafetySOS {
			s.sender.Send(ctx, EmergencyNotice(a, conv, to))
			s.logger.WarnContext(ctx, "sos raised", "appointment_id", a.ID, "actor_id", actorID)
		} else {
			s.sender.Send(ctx, StatusNotice(a, conv, to))
		}
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id, actorID string) (Appointment, error) {
	a, _, err := s.loadForParticipant(ctx, id, actorID, "view this appointment")
	return a, err
}

func (s *Service) ListByConversation(ctx context.Context, conversationID, actorID string) ([]Appointment, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(actorID) {
		return nil, &AuthorizationError{ActorID: actorID, Action: "view this conversation"}
	}
	return s.store.ListByConversation(ctx, conversationID)
}

func (s *Service) loadForParticipant(ctx context.Context, id, actorID, action string) (Appointment, conversation.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return Appointment{}, conversation.Conversation{}, &ValidationError{Field: "appointment_id", Reason: "required"}
	}
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Appointment{}, conversation.Conversation{}, err
	}
	conv, err := s.conversation(ctx, a.ConversationID)
	if err != nil {
		return Appointment{}, conversation.Conversation{}, err
	}
	if !conv.IsParticipant(actorID) {
		return Appointment{}, conversation.Conversation{}, &AuthorizationError{ActorID: actorID, Action: action}
	}
	return a, conv, nil
}

func (s *Service) conversation(ctx context.Context, id string) (conversation.Conversation, error) {
	conv, err := s.convs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return conversation.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return conversation.Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}
	return conv, nil
}
