// Package reminders sends the fixed-offset pre-meeting reminders. Each
// (appointment, offset) pair is claimed in the store before anything is sent,
// so overlapping windows and concurrent runs never notify twice.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
)

var DefaultOffsets = []time.Duration{48 * time.Hour, 24 * time.Hour}

const DefaultWindow = time.Hour

type Config struct {
	Offsets []time.Duration
	// Window is the lookahead width after each offset. It should be at least
	// the run interval so no appointment falls between two runs.
	Window time.Duration
}

type Scheduler struct {
	store  appointment.Store
	convs  conversation.Lookup
	sender notify.Sender
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config
}

func NewScheduler(store appointment.Store, convs conversation.Lookup, sender notify.Sender, clk clock.Clock, logger *slog.Logger, cfg Config) *Scheduler {
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = DefaultOffsets
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Scheduler{store: store, convs: convs, sender: sender, clock: clk, logger: logger, cfg: cfg}
}

type Report struct {
	Candidates int `json:"candidates"`
	Claimed    int `json:"claimed"`
	Duplicates int `json:"duplicates"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Run performs one pass over every configured offset. Errors are collected
// and returned after the pass; they never stop other appointments.
func (s *Scheduler) Run(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error
	now := s.clock.Now()

	for _, offset := range s.cfg.Offsets {
		from := now.Add(offset)
		due, err := s.store.ListDateBetween(ctx, appointment.StatusAccepted, from, from.Add(s.cfg.Window))
		if err != nil {
			errs = append(errs, fmt.Errorf("list due for %s: %w", appointment.OffsetLabel(offset), err))
			continue
		}
		rep.Candidates += len(due)

		tag := appointment.ReminderTag(offset)
		for _, a := range due {
			if err := ctx.Err(); err != nil {
				return rep, errors.Join(append(errs, err)...)
			}
			if err := s.remind(ctx, a, offset, tag, now, &rep); err != nil {
				rep.Failed++
				errs = append(errs, err)
				s.logger.ErrorContext(ctx, "reminder failed", "appointment_id", a.ID, "milestone", tag, "err", err)
			}
		}
	}
	return rep, errors.Join(errs...)
}

func (s *Scheduler) remind(ctx context.Context, a appointment.Appointment, offset time.Duration, tag string, now time.Time, rep *Report) error {
	conv, err := s.convs.Get(ctx, a.ConversationID)
	if err != nil {
		return fmt.Errorf("appointment %s: lookup conversation: %w", a.ID, err)
	}

	claimed, err := s.store.RecordReminder(ctx, a.ID, tag, now)
	if err != nil {
		return fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	if !claimed {
		rep.Duplicates++
		return nil
	}
	rep.Claimed++

	when := Humanize(offset)
	for _, userID := range conv.Participants() {
		if s.sender.Send(ctx, appointment.ReminderNotice(a, conv, userID, when, tag)) {
			rep.Sent++
		}
	}
	s.logger.InfoContext(ctx, "reminder sent", "appointment_id", a.ID, "milestone", tag)
	return nil
}

// Humanize renders an offset for notification text.
func Humanize(d time.Duration) string {
	switch {
	case d == 24*time.Hour:
		return "tomorrow"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("in %d days", d/(24*time.Hour))
	case d == time.Hour:
		return "in 1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("in %d hours", d/time.Hour)
	default:
		return fmt.Sprintf("in %d minutes", d/time.Minute)
	}
}
