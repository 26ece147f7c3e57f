package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "notifications.db"), time.Second)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreInsertAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first := &Notification{DispatchID: "d-1", UserID: "buyer", Title: "Reminder", Status: StatusPending, CreatedAt: base}
	second := &Notification{DispatchID: "d-2", UserID: "buyer", Title: "Safety check", Tag: "safety-check-a-1", Status: StatusPending, CreatedAt: base.Add(time.Minute)}
	other := &Notification{DispatchID: "d-3", UserID: "seller", Title: "Reminder", Status: StatusPending, CreatedAt: base}
	for _, n := range []*Notification{first, second, other} {
		if err := s.Insert(ctx, n); err != nil {
			t.Fatalf("insert %s: %v", n.DispatchID, err)
		}
	}
	if first.ID == 0 || second.ID == 0 {
		t.Fatalf("expected ids to be assigned")
	}
	if err := s.Insert(ctx, &Notification{DispatchID: "d-1", UserID: "buyer", Title: "again", Status: StatusPending, CreatedAt: base}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.SetStatus(ctx, second.ID, StatusFailed, "gateway down"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.SetStatus(ctx, 999, StatusSent, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	items, err := s.ListForUser(ctx, "buyer", false, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].DispatchID != "d-2" || items[1].DispatchID != "d-1" {
		t.Fatalf("unexpected order: %+v", items)
	}
	if items[0].Status != StatusFailed || items[0].LastError != "gateway down" || items[0].Tag != "safety-check-a-1" {
		t.Fatalf("unexpected row: %+v", items[0])
	}
	if !items[1].CreatedAt.Equal(base) {
		t.Fatalf("created_at round trip: got %v", items[1].CreatedAt)
	}
}

func TestSQLiteStoreMarkRead(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	n := &Notification{DispatchID: "d-1", UserID: "buyer", Title: "Reminder", Status: StatusSent, CreatedAt: time.Now().UTC()}
	if err := s.Insert(ctx, n); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.MarkRead(ctx, "seller", n.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
	readAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := s.MarkRead(ctx, "buyer", n.ID, readAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.MarkRead(ctx, "buyer", n.ID, readAt.Add(time.Hour)); err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	unread, err := s.ListForUser(ctx, "buyer", true, 10)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("expected no unread items, got %d", len(unread))
	}
	all, err := s.ListForUser(ctx, "buyer", false, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ReadAt == nil || !all[0].ReadAt.Equal(readAt) {
		t.Fatalf("expected first read time to stick, got %+v", all)
	}
}

func TestSQLiteStoreInbox(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	ok, err := s.Record(ctx, "evt-1", "notification.dispatch")
	if err != nil || !ok {
		t.Fatalf("first record: ok=%v err=%v", ok, err)
	}
	if ok, err = s.Record(ctx, "evt-1", "notification.dispatch"); err != nil || ok {
		t.Fatalf("second record: ok=%v err=%v", ok, err)
	}
	if err := s.Forget(ctx, "evt-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if ok, err = s.Record(ctx, "evt-1", "notification.dispatch"); err != nil || !ok {
		t.Fatalf("record after forget: ok=%v err=%v", ok, err)
	}
}
