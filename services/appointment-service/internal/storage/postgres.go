package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carmatch/meetguard/libs/db"
	"github.com/carmatch/meetguard/services/appointment-service/internal/appointment"
	"github.com/carmatch/meetguard/services/appointment-service/internal/outbox"
	"github.com/jackc/pgx/v5"
)

// PostgresStore implements appointment.Store on pgx. Every write and its
// events commit in one transaction through the outbox.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

const selectColumns = `
	SELECT id::text, conversation_id, proposer_id, date, location, COALESCE(address, ''),
		latitude, longitude, status, monitoring_active, last_safety_check,
		missed_response_count, notified_milestones, version, created_at, updated_at
	FROM appointments`

func scanAppointment(row pgx.CollectableRow) (appointment.Appointment, error) {
	var a appointment.Appointment
	var status string
	err := row.Scan(
		&a.ID,
		&a.ConversationID,
		&a.ProposerID,
		&a.Date,
		&a.Location,
		&a.Address,
		&a.Latitude,
		&a.Longitude,
		&status,
		&a.MonitoringActive,
		&a.LastSafetyCheck,
		&a.MissedResponseCount,
		&a.NotifiedMilestones,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	a.Status = appointment.Status(status)
	return a, err
}

func (s *PostgresStore) Create(ctx context.Context, a *appointment.Appointment, events ...appointment.Event) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments
				(id, conversation_id, proposer_id, date, location, address, latitude, longitude,
				 status, monitoring_active, last_safety_check, missed_response_count, notified_milestones,
				 version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
		`, a.ID, a.ConversationID, a.ProposerID, a.Date, a.Location, a.Address, a.Latitude, a.Longitude,
			string(a.Status), a.MonitoringActive, a.LastSafetyCheck, a.MissedResponseCount, milestones(a),
			a.CreatedAt, a.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return appointment.ErrConflict
			}
			return err
		}
		if err := s.writeEvents(ctx, tx, events); err != nil {
			return err
		}
		a.Version = 1
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (appointment.Appointment, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return appointment.Appointment{}, err
	}
	a, err := pgx.CollectOneRow(rows, scanAppointment)
	if db.IsNotFound(err) {
		return appointment.Appointment{}, appointment.ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) ListByConversation(ctx context.Context, conversationID string) ([]appointment.Appointment, error) {
	return s.list(ctx, selectColumns+` WHERE conversation_id = $1 ORDER BY date ASC, id ASC`, conversationID)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status appointment.Status) ([]appointment.Appointment, error) {
	return s.list(ctx, selectColumns+` WHERE status = $1 ORDER BY date ASC, id ASC`, string(status))
}

func (s *PostgresStore) ListDateBetween(ctx context.Context, status appointment.Status, from, to time.Time) ([]appointment.Appointment, error) {
	return s.list(ctx, selectColumns+`
		WHERE status = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC, id ASC`, string(status), from, to)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]appointment.Appointment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAppointment)
}

// Update writes a only if the stored version still equals a.Version.
func (s *PostgresStore) Update(ctx context.Context, a *appointment.Appointment, events ...appointment.Event) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var next int64
		err := tx.QueryRow(ctx, `
			UPDATE appointments
			SET proposer_id = $3,
				date = $4,
				location = $5,
				address = NULLIF($6, ''),
				latitude = $7,
				longitude = $8,
				status = $9,
				monitoring_active = $10,
				last_safety_check = $11,
				missed_response_count = $12,
				notified_milestones = $13,
				updated_at = $14,
				version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version
		`, a.ID, a.Version, a.ProposerID, a.Date, a.Location, a.Address, a.Latitude, a.Longitude,
			string(a.Status), a.MonitoringActive, a.LastSafetyCheck, a.MissedResponseCount, milestones(a),
			a.UpdatedAt).Scan(&next)
		if err != nil {
			if db.IsNotFound(err) {
				return s.missingOrConflict(ctx, tx, a.ID)
			}
			return err
		}
		if err := s.writeEvents(ctx, tx, events); err != nil {
			return err
		}
		a.Version = next
		return nil
	})
}

func (s *PostgresStore) missingOrConflict(ctx context.Context, tx pgx.Tx, id string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return appointment.ErrConflict
	}
	return appointment.ErrNotFound
}

func (s *PostgresStore) RecordReminder(ctx context.Context, appointmentID, milestone string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO appointment_reminders (appointment_id, milestone, sent_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id, milestone) DO NOTHING
	`, appointmentID, milestone, at)
	if err != nil {
		return false, fmt.Errorf("record reminder %s: %w", milestone, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) writeEvents(ctx context.Context, tx pgx.Tx, events []appointment.Event) error {
	for _, e := range events {
		if e.Type == "" {
			return errors.New("event without type")
		}
		if err := s.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   e.AppointmentID,
			EventType:     e.Type,
			Payload:       e.Payload,
		}); err != nil {
			return fmt.Errorf("write outbox event %s: %w", e.Type, err)
		}
	}
	return nil
}

func milestones(a *appointment.Appointment) []string {
	if a.NotifiedMilestones == nil {
		return []string{}
	}
	return a.NotifiedMilestones
}
