package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore keeps the inbox in a single SQLite file for single-node
// deployments. It also records consumed event ids, so it can stand in for the
// Postgres inbox.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Insert(ctx context.Context, n *Notification) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (dispatch_id, user_id, title, body, deep_link, tag, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dispatch_id) DO NOTHING
	`, n.DispatchID, n.UserID, n.Title, n.Body, nullStr(n.DeepLink), nullStr(n.Tag), string(n.Status), formatTime(n.CreatedAt))
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return err
	} else if affected == 0 {
		return ErrDuplicate
	}
	n.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status Status, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET status = ?, last_error = ? WHERE id = ?
	`, string(status), nullStr(lastError), id)
	return affectedOne(res, err)
}

func (s *SQLiteStore) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dispatch_id, user_id, title, body, COALESCE(deep_link, ''), COALESCE(tag, ''),
			status, COALESCE(last_error, ''), created_at, read_at
		FROM notifications
		WHERE user_id = ? AND (? = 0 OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, boolInt(unreadOnly), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n       Notification
			status  string
			created string
			readAt  sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.DispatchID, &n.UserID, &n.Title, &n.Body, &n.DeepLink, &n.Tag,
			&status, &n.LastError, &created, &readAt); err != nil {
			return nil, err
		}
		n.Status = Status(status)
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("notification %d: created_at: %w", n.ID, err)
		}
		if readAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, readAt.String)
			if err != nil {
				return nil, fmt.Errorf("notification %d: read_at: %w", n.ID, err)
			}
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkRead(ctx context.Context, userID string, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND user_id = ?
	`, formatTime(at), id, userID)
	return affectedOne(res, err)
}

// Record reports false when eventID was already recorded.
func (s *SQLiteStore) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_events (event_id, event_type, received_at) VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, eventID, eventType, formatTime(time.Now()))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected == 1, err
}

func (s *SQLiteStore) Forget(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM inbox_events WHERE event_id = ?`, eventID)
	return err
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
