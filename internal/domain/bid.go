package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bid
// ──────────────────────────────────────────────────────────────────────────────

// Bid is a single recorded bid. Bids are never deleted; a later winning bid
// supersedes them logically.
type Bid struct {
	ID        uuid.UUID        `json:"id"`
	AuctionID uuid.UUID        `json:"auction_id"`
	BidderID  uuid.UUID        `json:"bidder_id"`
	Amount    decimal.Decimal  `json:"amount"`
	IsProxy   bool             `json:"is_proxy"`
	ProxyMax  *decimal.Decimal `json:"-"` // hidden maximum, never broadcast
	AutoBid   bool             `json:"auto_bid"` // generated on behalf of a proxy holder
	Winning   bool             `json:"winning"`  // led the auction when recorded
	CreatedAt time.Time        `json:"created_at"`
}

// HasProxy reports whether the bid carries a standing proxy maximum.
func (b *Bid) HasProxy() bool {
	return b.ProxyMax != nil
}

// Clone returns a deep copy.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	c := *b
	if b.ProxyMax != nil {
		m := *b.ProxyMax
		c.ProxyMax = &m
	}
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBidRequest / BidResult: value objects used by BidService
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBidRequest carries the inputs of placeBid / placeProxyBid. ProxyMax is
// nil for a manual bid. For a proxy bid Amount may be zero, in which case the
// resolver bids the current minimum on the bidder's behalf.
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	ProxyMax  *decimal.Decimal
}

// IsProxy reports whether the request carries a proxy maximum.
func (r PlaceBidRequest) IsProxy() bool {
	return r.ProxyMax != nil
}

// Exposure is the amount the ledger must hold for this request: the proxy
// maximum when present, otherwise the bid amount.
func (r PlaceBidRequest) Exposure() decimal.Decimal {
	if r.ProxyMax != nil && r.ProxyMax.GreaterThan(r.Amount) {
		return *r.ProxyMax
	}
	return r.Amount
}

// BidResult is returned to the caller of placeBid / placeProxyBid.
type BidResult struct {
	Won             bool            `json:"won"`
	CurrentBid      decimal.Decimal `json:"current_bid"`
	MinimumNextBid  decimal.Decimal `json:"minimum_next_bid"`
	HighestBidderID *uuid.UUID      `json:"highest_bidder_id"`
	BidCount        uint            `json:"bid_count"`
	EndsAt          time.Time       `json:"ends_at"`
	Bid             *Bid            `json:"bid"`
	CounterBid      *Bid            `json:"counter_bid,omitempty"`
}
