package conversation

import (
	"context"

	"github.com/carmatch/meetguard/libs/db"
)

// PostgresLookup reads the conversations view replicated from the chat service.
type PostgresLookup struct {
	pool *db.Pool
}

func NewPostgresLookup(pool *db.Pool) *PostgresLookup {
	return &PostgresLookup{pool: pool}
}

func (l *PostgresLookup) Get(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := l.pool.QueryRow(ctx, `
		SELECT id::text, buyer_id, seller_id, COALESCE(subject, ''), listing_active
		FROM conversations
		WHERE id = $1
	`, id).Scan(&c.ID, &c.BuyerID, &c.SellerID, &c.Subject, &c.ListingActive)
	if err != nil {
		if db.IsNotFound(err) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return c, nil
}
