// Package events turns committed auction transitions into notifications and
// delivers them, in commit order per auction, to in-process subscribers and
// external sinks such as Redis pub/sub.
package events

import (
	"context"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Publisher is an external sink. Delivery is at-least-once: a sink may see
// the same event again after a failed attempt and must de-duplicate by
// (AuctionID, HistoryEntryID).
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Event is one notification. There is exactly one per history entry.
type Event struct {
	ID             uuid.UUID        `json:"id"`
	Type           domain.EventType `json:"type"`
	AuctionID      uuid.UUID        `json:"auction_id"`
	HistoryEntryID uuid.UUID        `json:"history_entry_id"`
	Seq            uint64           `json:"seq"`
	Payload        Payload          `json:"payload"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// Payload is the public auction state after the commit plus the entry's own
// details. Proxy maximums and the reserve price never appear here.
type Payload struct {
	Status          domain.AuctionStatus `json:"status"`
	CurrentBid      decimal.Decimal      `json:"current_bid"`
	HighestBidderID *uuid.UUID           `json:"highest_bidder_id"`
	WinnerID        *uuid.UUID           `json:"winner_id,omitempty"`
	BidCount        uint                 `json:"bid_count"`
	ReserveMet      bool                 `json:"reserve_met"`
	EndsAt          time.Time            `json:"ends_at"`
	ActorID         *uuid.UUID           `json:"actor_id,omitempty"`
	Amount          *decimal.Decimal     `json:"amount,omitempty"`
	Description     string               `json:"description"`
}

// FromCommit builds the events of one commit in entry order.
func FromCommit(c *store.Commit) []Event {
	if c == nil || len(c.Entries) == 0 {
		return nil
	}
	a := c.Auction
	out := make([]Event, 0, len(c.Entries))
	for _, e := range c.Entries {
		out = append(out, Event{
			ID:             uuid.New(),
			Type:           e.EventType,
			AuctionID:      e.AuctionID,
			HistoryEntryID: e.ID,
			Seq:            e.Seq,
			OccurredAt:     e.CreatedAt,
			Payload: Payload{
				Status:          a.Status,
				CurrentBid:      a.CurrentBid,
				HighestBidderID: a.HighestBidderID,
				WinnerID:        a.WinnerID,
				BidCount:        a.BidCount,
				ReserveMet:      a.ReserveMet,
				EndsAt:          a.EndsAt,
				ActorID:         e.ActorID,
				Amount:          e.Amount,
				Description:     e.Description,
			},
		})
	}
	return out
}
