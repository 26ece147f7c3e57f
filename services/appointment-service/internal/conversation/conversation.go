// Package conversation resolves the two parties of a marketplace chat. The
// chat itself is owned by another service; appointments only need to know who
// the buyer and seller are and whether the listing is still on sale.
package conversation

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("conversation not found")

type Conversation struct {
	ID       string `json:"id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	// Subject is the listing title shown in notification bodies.
	Subject       string `json:"subject"`
	ListingActive bool   `json:"listing_active"`
}

func (c Conversation) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.BuyerID || userID == c.SellerID)
}

// Counterparty returns the other participant, or false when userID is not one.
func (c Conversation) Counterparty(userID string) (string, bool) {
	switch userID {
	case "":
		return "", false
	case c.BuyerID:
		return c.SellerID, true
	case c.SellerID:
		return c.BuyerID, true
	}
	return "", false
}

func (c Conversation) Participants() []string {
	return []string{c.BuyerID, c.SellerID}
}

type Lookup interface {
	Get(ctx context.Context, id string) (Conversation, error)
}
