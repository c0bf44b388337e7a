// Package domain defines the core entities, policies and error taxonomy of the
// auction bidding and lifecycle engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusPending   AuctionStatus = "pending"   // created, startsAt not reached
	StatusActive    AuctionStatus = "active"    // accepting bids
	StatusEnded     AuctionStatus = "ended"     // closed without a sale (no bids / reserve not met)
	StatusSold      AuctionStatus = "sold"      // closed with reserve met
	StatusCancelled AuctionStatus = "cancelled" // voided by host or admin
)

// transitions is the only set of status edges the store accepts.
var transitions = map[AuctionStatus][]AuctionStatus{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusEnded, StatusSold, StatusCancelled},
}

// IsTerminal returns true for Ended, Sold and Cancelled.
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusSold || s == StatusCancelled
}

// IsValid returns true if s is a recognised status.
func (s AuctionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusEnded, StatusSold, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed. Staying in
// the same status is always allowed.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction is the authoritative state of a single auction. Only the store
// mutates stored values; everything else works on copies.
type Auction struct {
	ID                    uuid.UUID        `json:"id"`
	HostID                uuid.UUID        `json:"host_id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	Category              string           `json:"category"`
	StartingBid           decimal.Decimal  `json:"starting_bid"`
	CurrentBid            decimal.Decimal  `json:"current_bid"`
	ReservePrice          *decimal.Decimal `json:"-"` // hidden from bidders
	ReserveMet            bool             `json:"reserve_met"`
	HighestBidderID       *uuid.UUID       `json:"highest_bidder_id"`
	WinnerID              *uuid.UUID       `json:"winner_id"`
	BidCount              uint             `json:"bid_count"`
	Status                AuctionStatus    `json:"status"`
	SnipeProtectionWindow time.Duration    `json:"snipe_protection_window"`
	StartsAt              time.Time        `json:"starts_at"`
	EndsAt                time.Time        `json:"ends_at"`
	CancelReason          string           `json:"cancel_reason,omitempty"`
	ClosedAt              *time.Time       `json:"closed_at"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so callers never alias stored pointers.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	if a.ReservePrice != nil {
		rp := *a.ReservePrice
		c.ReservePrice = &rp
	}
	if a.HighestBidderID != nil {
		id := *a.HighestBidderID
		c.HighestBidderID = &id
	}
	if a.WinnerID != nil {
		id := *a.WinnerID
		c.WinnerID = &id
	}
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// IsActive returns true while the auction is accepting bids.
func (a *Auction) IsActive() bool {
	return a.Status == StatusActive
}

// IsHighestBidder reports whether userID currently leads.
func (a *Auction) IsHighestBidder(userID uuid.UUID) bool {
	return a.HighestBidderID != nil && *a.HighestBidderID == userID
}

// ReserveSatisfiedBy reports whether amount meets the reserve. An auction
// without a reserve is satisfied by any bid.
func (a *Auction) ReserveSatisfiedBy(amount decimal.Decimal) bool {
	return a.ReservePrice == nil || amount.GreaterThanOrEqual(*a.ReservePrice)
}

// DueStatus returns the status the auction should be in at now, following the
// time-driven edges of the transition table. Terminal and cancelled states are
// returned unchanged.
func (a *Auction) DueStatus(now time.Time) AuctionStatus {
	status := a.Status
	if status == StatusPending && !now.Before(a.StartsAt) {
		status = StatusActive
	}
	if status == StatusActive && !now.Before(a.EndsAt) {
		if a.BidCount > 0 && a.ReserveMet {
			return StatusSold
		}
		return StatusEnded
	}
	return status
}

// TimeLeft returns the duration remaining until the auction closes at now.
// Returns 0 if the closing time has already passed.
func (a *Auction) TimeLeft(now time.Time) time.Duration {
	remaining := a.EndsAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateAuctionRequest
// ──────────────────────────────────────────────────────────────────────────────

// CreateAuctionRequest carries the inputs of the auction creation API.
type CreateAuctionRequest struct {
	HostID                uuid.UUID
	Title                 string
	Description           string
	Category              string
	StartingBid           decimal.Decimal
	ReservePrice          *decimal.Decimal
	SnipeProtectionWindow time.Duration
	StartsAt              time.Time
	EndsAt                time.Time
}

// Validate checks the request against the creation rules. maxSnipe bounds the
// snipe window; zero disables the bound.
func (r CreateAuctionRequest) Validate(maxSnipe time.Duration) error {
	if r.HostID == uuid.Nil || r.Title == "" {
		return ErrMissingField
	}
	if !r.StartingBid.IsPositive() {
		return ErrInvalidAmount
	}
	if r.ReservePrice != nil && r.ReservePrice.LessThan(r.StartingBid) {
		return ErrInvalidReserve
	}
	if !r.EndsAt.After(r.StartsAt) {
		return ErrInvalidSchedule
	}
	if r.SnipeProtectionWindow < 0 || (maxSnipe > 0 && r.SnipeProtectionWindow > maxSnipe) {
		return ErrInvalidSnipeWindow
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuctionSummary: read model for list endpoints
// ──────────────────────────────────────────────────────────────────────────────

// AuctionSummary is a derived, read-only view of an Auction.
type AuctionSummary struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	Category       string          `json:"category"`
	Status         AuctionStatus   `json:"status"`
	CurrentBid     decimal.Decimal `json:"current_bid"`
	MinimumNextBid decimal.Decimal `json:"minimum_next_bid"`
	BidCount       uint            `json:"bid_count"`
	HasReserve     bool            `json:"has_reserve"`
	ReserveMet     bool            `json:"reserve_met"`
	EndsAt         time.Time       `json:"ends_at"`
	TimeLeftSec    int64           `json:"time_left_sec"`
}

// ToSummary builds an AuctionSummary as seen at now.
func (a *Auction) ToSummary(policy IncrementPolicy, now time.Time) AuctionSummary {
	return AuctionSummary{
		ID:             a.ID,
		Title:          a.Title,
		Category:       a.Category,
		Status:         a.Status,
		CurrentBid:     a.CurrentBid,
		MinimumNextBid: policy.MinimumNextBid(a),
		BidCount:       a.BidCount,
		HasReserve:     a.ReservePrice != nil,
		ReserveMet:     a.ReserveMet,
		EndsAt:         a.EndsAt,
		TimeLeftSec:    int64(a.TimeLeft(now).Seconds()),
	}
}
