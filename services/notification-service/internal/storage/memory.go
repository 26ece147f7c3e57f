package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore backs tests and local runs without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*Notification
	byDisp map[string]int64
	events map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[int64]*Notification{}, byDisp: map[string]int64{}, events: map[string]struct{}{}}
}

func (m *MemoryStore) Insert(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDisp[n.DispatchID]; ok {
		return ErrDuplicate
	}
	m.nextID++
	n.ID = m.nextID
	cp := *n
	m.rows[n.ID] = &cp
	m.byDisp[n.DispatchID] = n.ID
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id int64, status Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = status
	n.LastError = lastError
	return nil
}

func (m *MemoryStore) ListForUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, userID string, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	if n.ReadAt == nil {
		t := at
		n.ReadAt = &t
	}
	return nil
}

func (m *MemoryStore) Record(_ context.Context, eventID string, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[eventID]; ok {
		return false, nil
	}
	m.events[eventID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.events, eventID)
	m.mu.Unlock()
	return nil
}
