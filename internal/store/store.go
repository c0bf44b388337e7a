// Package store owns the authoritative state of every auction, its bids and
// its history. It is the only package that mutates that state; all writes go
// through Update, which serialises mutations per auction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// ErrAlreadyExists is returned by Create for a duplicate auction id.
var ErrAlreadyExists = errors.New("auction already exists")

// ListFilter narrows List results. A zero Status matches every status.
type ListFilter struct {
	Status domain.AuctionStatus
	Limit  int
	Offset int
}

// AuctionStore is the repository contract the engine depends on. Its only
// concurrency promise is atomic read-modify-write per auction id.
type AuctionStore interface {
	Create(ctx context.Context, a *domain.Auction) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	List(ctx context.Context, f ListFilter) ([]*domain.Auction, int, error)
	Bids(ctx context.Context, id uuid.UUID) ([]*domain.Bid, error)
	History(ctx context.Context, id uuid.UUID) ([]*domain.HistoryEntry, error)
	DueForTransition(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// Update runs fn against a working copy while holding the auction's
	// exclusion. A nil return commits the copy; any error discards it.
	Update(ctx context.Context, id uuid.UUID, fn func(tx *Tx) error) (*Commit, error)
}

// Commit describes what one successful Update wrote. All values are copies.
type Commit struct {
	Auction *domain.Auction
	Bids    []*domain.Bid
	Entries []*domain.HistoryEntry
}

// CommitHook runs after a commit while the auction's exclusion is still held,
// so hooks observe commits of one auction in order. Hooks must not block.
type CommitHook func(c *Commit)

// ──────────────────────────────────────────────────────────────────────────────
// Tx: the working copy handed to Update callbacks
// ──────────────────────────────────────────────────────────────────────────────

// Tx is the mutable view of one auction inside Update.
type Tx struct {
	Auction *domain.Auction

	bids         []*domain.Bid
	newBids      []*domain.Bid
	entries      []*domain.HistoryEntry
	reservations map[uuid.UUID]uuid.UUID
}

func newTx(a *domain.Auction, bids []*domain.Bid, reservations map[uuid.UUID]uuid.UUID) *Tx {
	res := make(map[uuid.UUID]uuid.UUID, len(reservations))
	for k, v := range reservations {
		res[k] = v
	}
	committed := make([]*domain.Bid, len(bids))
	for i, b := range bids {
		committed[i] = b.Clone()
	}
	return &Tx{Auction: a.Clone(), bids: committed, reservations: res}
}

// Bids returns committed bids followed by bids added in this Tx, in
// submission order.
func (tx *Tx) Bids() []*domain.Bid {
	out := make([]*domain.Bid, 0, len(tx.bids)+len(tx.newBids))
	out = append(out, tx.bids...)
	return append(out, tx.newBids...)
}

// AddBid records a bid.
func (tx *Tx) AddBid(b *domain.Bid) {
	tx.newBids = append(tx.newBids, b)
}

// Append adds a history entry. Sequence numbers and hashes are assigned at
// commit.
func (tx *Tx) Append(e *domain.HistoryEntry) {
	tx.entries = append(tx.entries, e)
}

// Entries returns the entries appended so far in this Tx.
func (tx *Tx) Entries() []*domain.HistoryEntry {
	return tx.entries
}

// Reservation returns the bidder's active ledger reservation on this auction.
func (tx *Tx) Reservation(bidderID uuid.UUID) (uuid.UUID, bool) {
	id, ok := tx.reservations[bidderID]
	return id, ok
}

// SetReservation records the bidder's active reservation.
func (tx *Tx) SetReservation(bidderID, reservationID uuid.UUID) {
	tx.reservations[bidderID] = reservationID
}

// DropReservation forgets the bidder's reservation and returns it.
func (tx *Tx) DropReservation(bidderID uuid.UUID) (uuid.UUID, bool) {
	id, ok := tx.reservations[bidderID]
	if ok {
		delete(tx.reservations, bidderID)
	}
	return id, ok
}

// Reservations returns a copy of every active reservation keyed by bidder.
func (tx *Tx) Reservations() map[uuid.UUID]uuid.UUID {
	out := make(map[uuid.UUID]uuid.UUID, len(tx.reservations))
	for k, v := range tx.reservations {
		out[k] = v
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Commit-time invariant checks
// ──────────────────────────────────────────────────────────────────────────────

// checkInvariants rejects a commit that would break the monotonicity rules of
// an auction or move its status along an edge missing from the table.
func checkInvariants(prev, next *domain.Auction, entries int) error {
	if next.ID != prev.ID {
		return domain.ErrInvariantViolated
	}
	if !prev.Status.CanTransitionTo(next.Status) {
		return domain.ErrIllegalTransition
	}
	if next.CurrentBid.LessThan(prev.CurrentBid) ||
		next.EndsAt.Before(prev.EndsAt) ||
		next.BidCount < prev.BidCount ||
		(prev.ReserveMet && !next.ReserveMet) {
		return domain.ErrInvariantViolated
	}
	if prev.Status.IsTerminal() && changed(prev, next) {
		return domain.ErrIllegalTransition
	}
	if entries == 0 && changed(prev, next) {
		return domain.ErrInvariantViolated
	}
	return nil
}

func changed(prev, next *domain.Auction) bool {
	return prev.Status != next.Status ||
		!prev.CurrentBid.Equal(next.CurrentBid) ||
		!prev.EndsAt.Equal(next.EndsAt) ||
		prev.ReserveMet != next.ReserveMet ||
		prev.BidCount != next.BidCount
}
