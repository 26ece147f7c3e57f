// Package monitor runs the live safety loop: escalating reminders before the
// meeting, then periodic liveness probes once it starts, finishing the
// appointment when nobody answers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
)

type Monitor struct {
	store  appointment.Store
	convs  conversation.Lookup
	sender notify.Sender
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
}

func New(store appointment.Store, convs conversation.Lookup, sender notify.Sender, clk clock.Clock, logger *slog.Logger, cfg Config) *Monitor {
	return &Monitor{store: store, convs: convs, sender: sender, clock: clk, logger: logger, cfg: cfg.withDefaults()}
}

type Report struct {
	Scanned      int `json:"scanned"`
	Milestones   int `json:"milestones"`
	Activated    int `json:"activated"`
	Probes       int `json:"probes"`
	AutoFinished int `json:"auto_finished"`
	Conflicts    int `json:"conflicts"`
	Failed       int `json:"failed"`
	Sent         int `json:"sent"`
}

// Run processes every ACCEPTED appointment once. State is persisted before
// any notification goes out; a lost optimistic race skips the appointment
// until the next run.
func (m *Monitor) Run(ctx context.Context) (Report, error) {
	var rep Report
	list, err := m.store.ListByStatus(ctx, appointment.StatusAccepted)
	if err != nil {
		return rep, fmt.Errorf("list accepted appointments: %w", err)
	}
	rep.Scanned = len(list)

	var errs []error
	for _, a := range list {
		if err := ctx.Err(); err != nil {
			return rep, errors.Join(append(errs, err)...)
		}
		if err := m.process(ctx, a, &rep); err != nil {
			if errors.Is(err, appointment.ErrConflict) {
				rep.Conflicts++
				m.logger.InfoContext(ctx, "appointment changed during monitor run, skipping", "appointment_id", a.ID)
				continue
			}
			rep.Failed++
			errs = append(errs, err)
			m.logger.ErrorContext(ctx, "monitor step failed", "appointment_id", a.ID, "err", err)
		}
	}
	return rep, errors.Join(errs...)
}

func (m *Monitor) process(ctx context.Context, a appointment.Appointment, rep *Report) error {
	now := m.clock.Now()
	d := Decide(a, now, m.cfg)
	if d.Action == ActionNone {
		return nil
	}

	var conv conversation.Conversation
	if d.Action != ActionAutoFinish {
		var err error
		if conv, err = m.convs.Get(ctx, a.ConversationID); err != nil {
			return fmt.Errorf("appointment %s: lookup conversation: %w", a.ID, err)
		}
	}

	detail := d.Action.String()
	if d.Action == ActionMilestone {
		detail = d.Rung.Tag()
	}
	next := a.Clone()
	Apply(&next, d, now)
	next.UpdatedAt = now
	if err := m.store.Update(ctx, &next, appointment.NewEvent(eventType(d), next, "", detail)); err != nil {
		return fmt.Errorf("appointment %s: %w", a.ID, err)
	}

	var notice func(to string) notify.Notification
	switch d.Action {
	case ActionMilestone:
		rep.Milestones++
		notice = func(to string) notify.Notification {
			return appointment.ReminderNotice(next, conv, to, d.Rung.When, d.Rung.Tag())
		}
		m.logger.InfoContext(ctx, "escalation milestone", "appointment_id", a.ID, "milestone", d.Rung.Tag())
	case ActionActivate, ActionProbe:
		if d.Action == ActionActivate {
			rep.Activated++
		} else {
			rep.Probes++
		}
		notice = func(to string) notify.Notification {
			return appointment.SafetyCheckNotice(next, conv, to)
		}
		m.logger.InfoContext(ctx, "safety check", "appointment_id", a.ID, "action", d.Action.String(), "missed", next.MissedResponseCount)
	case ActionAutoFinish:
		rep.AutoFinished++
		m.logger.WarnContext(ctx, "appointment finished after unanswered safety checks", "appointment_id", a.ID, "missed", a.MissedResponseCount)
		return nil
	}

	for _, userID := range conv.Participants() {
		if m.sender.Send(ctx, notice(userID)) {
			rep.Sent++
		}
	}
	return nil
}

func eventType(d Decision) string {
	switch d.Action {
	case ActionMilestone:
		return appointment.EventMilestoneNotified
	case ActionActivate:
		return appointment.EventMonitoringStarted
	case ActionProbe:
		return appointment.EventSafetyCheckSent
	default:
		return appointment.EventAutoFinished
	}
}
