package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type memInbox struct {
	seen      map[string]bool
	forgotten []string
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, eventID string) error {
	delete(m.seen, eventID)
	m.forgotten = append(m.forgotten, eventID)
	return nil
}

// sliceReader serves messages then blocks until the context ends.
type sliceReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []string
	closed    bool
}

func (s *sliceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	s.mu.Lock()
	if len(s.msgs) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	s.mu.Unlock()
	return m, nil
}

func (s *sliceReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, string(m.Headers[0].Value))
	}
	return nil
}

func (s *sliceReader) commits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.committed...)
}

func (s *sliceReader) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func msg(eventID string) kafka.Message {
	return kafka.Message{
		Topic: "notification.dispatch.requested.v1",
		Key:   []byte("seller"),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("notification.dispatch.requested.v1")},
		},
	}
}

func TestRunDedupesByEventID(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{msg("e-1"), msg("e-1"), msg("e-2")}}
	inbox := &memInbox{seen: map[string]bool{}}
	handled := map[string]int{}
	done := make(chan struct{})

	c := NewWithReader(slog.New(slog.NewTextHandler(io.Discard, nil)), inbox, reader, func(_ context.Context, m kafka.Message) error {
		handled[string(m.Headers[0].Value)]++
		if len(handled) == 2 {
			close(done)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()
	<-done
	cancel()
	<-finished

	if handled["e-1"] != 1 || handled["e-2"] != 1 {
		t.Fatalf("unexpected handled counts %v", handled)
	}
	if !reader.closed {
		t.Fatal("expected reader closed on exit")
	}
	if got := reader.commits(); len(got) != 3 {
		t.Fatalf("expected every message committed once handled or skipped, got %v", got)
	}
}

func TestHandlerErrorAllowsRedelivery(t *testing.T) {
	inbox := &memInbox{seen: map[string]bool{}}
	calls := 0
	c := NewWithReader(slog.New(slog.NewTextHandler(io.Discard, nil)), inbox, &sliceReader{}, func(context.Context, kafka.Message) error {
		calls++
		if calls == 1 {
			return errors.New("db down")
		}
		return nil
	})

	if err := c.process(context.Background(), msg("e-9")); err == nil {
		t.Fatal("expected handler error to be returned")
	}
	if len(inbox.forgotten) != 1 || inbox.seen["e-9"] {
		t.Fatalf("expected failed event forgotten, got %+v", inbox)
	}
	if err := c.process(context.Background(), msg("e-9")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 2 || !inbox.seen["e-9"] {
		t.Fatalf("expected redelivery handled, calls=%d", calls)
	}
}

func TestRunCommitsOnlyAfterHandlerSucceeds(t *testing.T) {
	reader := &sliceReader{msgs: []kafka.Message{msg("e-1"), msg("e-2")}}
	inbox := &memInbox{seen: map[string]bool{}}
	var (
		mu        sync.Mutex
		attempts  = map[string]int{}
		seenByE1  [][]string
		handledE2 = make(chan struct{})
	)
	c := NewWithReader(slog.New(slog.NewTextHandler(io.Discard, nil)), inbox, reader, func(_ context.Context, m kafka.Message) error {
		id := string(m.Headers[0].Value)
		mu.Lock()
		defer mu.Unlock()
		attempts[id]++
		if id == "e-1" {
			seenByE1 = append(seenByE1, reader.commits())
			if attempts[id] < 3 {
				return errors.New("store unavailable")
			}
			return nil
		}
		close(handledE2)
		return nil
	})
	c.retryMin = time.Millisecond
	c.retryMax = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()
	select {
	case <-handledE2:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the second message")
	}
	cancel()
	<-finished

	mu.Lock()
	defer mu.Unlock()
	if attempts["e-1"] != 3 || attempts["e-2"] != 1 {
		t.Fatalf("unexpected attempts %v", attempts)
	}
	for i, commits := range seenByE1 {
		if len(commits) != 0 {
			t.Fatalf("attempt %d: offset committed before the message was handled: %v", i+1, commits)
		}
	}
	got := reader.commits()
	if len(got) == 0 || got[0] != "e-1" {
		t.Fatalf("expected e-1 committed first, got %v", got)
	}
}
