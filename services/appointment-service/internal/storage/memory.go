package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
)

// MemoryStore implements appointment.Store in process. It keeps the same
// optimistic version semantics as the Postgres store.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[string]appointment.Appointment
	reminders map[string]time.Time
	events    []appointment.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:      map[string]appointment.Appointment{},
		reminders: map[string]time.Time{},
	}
}

func (m *MemoryStore) Create(_ context.Context, a *appointment.Appointment, events ...appointment.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[a.ID]; exists || a.ID == "" {
		return appointment.ErrConflict
	}
	a.Version = 1
	m.rows[a.ID] = a.Clone()
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return appointment.Appointment{}, appointment.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) ListByConversation(_ context.Context, conversationID string) ([]appointment.Appointment, error) {
	return m.filter(func(a appointment.Appointment) bool { return a.ConversationID == conversationID }), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, status appointment.Status) ([]appointment.Appointment, error) {
	return m.filter(func(a appointment.Appointment) bool { return a.Status == status }), nil
}

func (m *MemoryStore) ListDateBetween(_ context.Context, status appointment.Status, from, to time.Time) ([]appointment.Appointment, error) {
	return m.filter(func(a appointment.Appointment) bool {
		return a.Status == status && !a.Date.Before(from) && a.Date.Before(to)
	}), nil
}

func (m *MemoryStore) Update(_ context.Context, a *appointment.Appointment, events ...appointment.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[a.ID]
	if !ok {
		return appointment.ErrNotFound
	}
	if cur.Version != a.Version {
		return appointment.ErrConflict
	}
	a.Version++
	m.rows[a.ID] = a.Clone()
	m.events = append(m.events, events...)
	return nil
}

func (m *MemoryStore) RecordReminder(_ context.Context, appointmentID, milestone string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := appointmentID + "|" + milestone
	if _, ok := m.reminders[key]; ok {
		return false, nil
	}
	m.reminders[key] = at
	return true, nil
}

// Reminders lists claimed reminder milestones for one appointment, sorted.
func (m *MemoryStore) Reminders(appointmentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	prefix := appointmentID + "|"
	for key := range m.reminders {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, key[len(prefix):])
		}
	}
	sort.Strings(out)
	return out
}

// Events returns every event written so far, in write order.
func (m *MemoryStore) Events() []appointment.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

func (m *MemoryStore) filter(keep func(appointment.Appointment) bool) []appointment.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range m.rows {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
