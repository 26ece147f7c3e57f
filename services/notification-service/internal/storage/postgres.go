package storage

import (
	"context"
	"time"

	"github.com/carmatch/meetguard/libs/db"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (dispatch_id, user_id, title, body, deep_link, tag, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING id
	`, n.DispatchID, n.UserID, n.Title, n.Body, n.DeepLink, n.Tag, string(n.Status), n.CreatedAt).Scan(&n.ID)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *Repository) SetStatus(ctx context.Context, id int64, status Status, lastError string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2, last_error = NULLIF($3, '')
		WHERE id = $1
	`, id, string(status), lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dispatch_id, user_id, title, body, COALESCE(deep_link, ''), COALESCE(tag, ''),
			status, COALESCE(last_error, ''), created_at, read_at
		FROM notifications
		WHERE user_id = $1 AND ($2 = false OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Notification, error) {
		var n Notification
		var status string
		err := row.Scan(&n.ID, &n.DispatchID, &n.UserID, &n.Title, &n.Body, &n.DeepLink, &n.Tag,
			&status, &n.LastError, &n.CreatedAt, &n.ReadAt)
		n.Status = Status(status)
		return n, err
	})
}

func (r *Repository) MarkRead(ctx context.Context, userID string, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
	`, id, userID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
