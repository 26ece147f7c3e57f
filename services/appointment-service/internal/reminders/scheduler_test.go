package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/carmatch/meetguard/libs/clock"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/conversation"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify"
	"github.com/carmatch/meetguard/services/appointment-service/internal/notify/notifytest"
	"github.com/carmatch/meetguard/services/appointment-service/internal/storage"
)

type harness struct {
	sched *Scheduler
	store *storage.MemoryStore
	rec   *notifytest.Recorder
	clock *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store: storage.NewMemoryStore(),
		rec:   notifytest.NewRecorder(),
		clock: clock.NewFake(time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)),
	}
	convs := conversation.NewStatic(conversation.Conversation{ID: "c1", BuyerID: "b1", SellerID: "s1", Subject: "Vespa", ListingActive: true})
	sender := notify.NewBestEffort(h.rec, logger, notify.Options{})
	h.sched = NewScheduler(h.store, convs, sender, h.clock, logger, Config{})
	return h
}

func (h *harness) seed(t *testing.T, id string, date time.Time, status appointment.Status) {
	t.Helper()
	a := appointment.Appointment{ID: id, ConversationID: "c1", ProposerID: "b1", Date: date, Location: "Plaza", Status: status}
	if err := h.store.Create(context.Background(), &a); err != nil {
		t.Fatal(err)
	}
}

func TestReminderEndToEndTwoDaysThenOneDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "a1", h.clock.Now().Add(48*time.Hour), appointment.StatusAccepted)

	rep, err := h.sched.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Claimed != 1 || rep.Sent != 2 {
		t.Fatalf("expected the 2 day reminder to both parties, got %+v", rep)
	}
	for _, n := range h.rec.Attempts() {
		if n.Tag != "reminder:48h" {
			t.Fatalf("unexpected tag %q", n.Tag)
		}
	}

	rep, _ = h.sched.Run(ctx)
	if rep.Sent != 0 || rep.Duplicates != 1 {
		t.Fatalf("re-run at the same instant must send nothing, got %+v", rep)
	}

	h.rec.Reset()
	h.clock.Advance(24 * time.Hour)
	rep, _ = h.sched.Run(ctx)
	if rep.Claimed != 1 || rep.Sent != 2 {
		t.Fatalf("expected the 1 day reminder, got %+v", rep)
	}
	for _, n := range h.rec.Attempts() {
		if n.Tag != "reminder:24h" {
			t.Fatalf("expected only the 1 day milestone, got %q", n.Tag)
		}
	}
	if got := h.store.Reminders("a1"); len(got) != 2 {
		t.Fatalf("expected two claimed milestones, got %v", got)
	}
}

func TestReminderSkipsNonAcceptedAndOutOfWindow(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.seed(t, "pending", now.Add(24*time.Hour), appointment.StatusPending)
	h.seed(t, "too-late", now.Add(25*time.Hour), appointment.StatusAccepted)
	h.seed(t, "too-early", now.Add(24*time.Hour-time.Second), appointment.StatusAccepted)

	rep, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Candidates != 0 || h.rec.Count() != 0 {
		t.Fatalf("expected nothing due, got %+v", rep)
	}
}

func TestReminderConcurrentRunsNotifyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "a1", h.clock.Now().Add(24*time.Hour+10*time.Minute), appointment.StatusAccepted)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.sched.Run(context.Background())
		}()
	}
	wg.Wait()

	if got := h.rec.Count(); got != 2 {
		t.Fatalf("expected exactly one reminder per party, got %d", got)
	}
}

func TestReminderDispatchFailureStillClaims(t *testing.T) {
	h := newHarness(t)
	h.rec.FailFor("s1")
	h.seed(t, "a1", h.clock.Now().Add(24*time.Hour), appointment.StatusAccepted)

	rep, err := h.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("dispatch failures must not surface as run errors: %v", err)
	}
	if rep.Claimed != 1 || rep.Sent != 1 || h.rec.Count() != 2 {
		t.Fatalf("unexpected report %+v attempts=%d", rep, h.rec.Count())
	}
}

func TestHumanize(t *testing.T) {
	tests := map[time.Duration]string{
		48 * time.Hour:   "in 2 days",
		24 * time.Hour:   "tomorrow",
		3 * time.Hour:    "in 3 hours",
		time.Hour:        "in 1 hour",
		90 * time.Minute: "in 90 minutes",
	}
	for d, want := range tests {
		if got := Humanize(d); got != want {
			t.Fatalf("Humanize(%v) = %q, want %q", d, got, want)
		}
	}
}

var errClaimFailed = errors.New("claim failed")

type cancellingStore struct {
	*storage.MemoryStore
	cancel context.CancelFunc
}

func (c cancellingStore) RecordReminder(context.Context, string, string, time.Time) (bool, error) {
	c.cancel()
	return false, errClaimFailed
}

func TestCancelledRunKeepsEarlierFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	h.seed(t, "a1", h.clock.Now().Add(48*time.Hour), appointment.StatusAccepted)
	h.seed(t, "a2", h.clock.Now().Add(48*time.Hour+10*time.Minute), appointment.StatusAccepted)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	convs := conversation.NewStatic(conversation.Conversation{ID: "c1", BuyerID: "b1", SellerID: "s1", ListingActive: true})
	sched := NewScheduler(cancellingStore{MemoryStore: h.store, cancel: cancel}, convs,
		notify.NewBestEffort(h.rec, logger, notify.Options{}), h.clock, logger, Config{})

	rep, err := sched.Run(ctx)
	if !errors.Is(err, errClaimFailed) {
		t.Fatalf("expected the claim failure to be reported, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancellation to be reported, got %v", err)
	}
	if rep.Failed != 1 || len(h.rec.Attempts()) != 0 {
		t.Fatalf("expected one failure and no dispatch, got %+v", rep)
	}
}
