package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/clock"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// lifecycle applies the time-driven status edges and settles funds when an
// auction closes. Both services share one instance so a transition looks the
// same whether a bid, a read or the sweeper triggered it.
type lifecycle struct {
	store  store.AuctionStore
	ledger Ledger
	clock  clock.Clock
	log    *slog.Logger
}

// settlement lists the ledger calls owed after a commit. They run outside the
// auction's exclusion.
type settlement struct {
	auctionID     uuid.UUID
	capture       *uuid.UUID
	captureAmount decimal.Decimal
	release       []uuid.UUID
}

func (s *settlement) empty() bool {
	return s == nil || (s.capture == nil && len(s.release) == 0)
}

// applyDue moves tx along every edge that is due at now and appends one
// history entry per edge. A Pending auction whose end has also passed goes
// through Active in the same commit so the history stays complete.
func applyDue(tx *store.Tx, now time.Time) *settlement {
	a := tx.Auction
	due := a.DueStatus(now)
	if due == a.Status {
		return nil
	}

	if a.Status == domain.StatusPending {
		a.Status = domain.StatusActive
		a.UpdatedAt = now
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventStarted, nil, nil, now,
			"auction started at %s", a.StartsAt.Format(time.RFC3339)))
		if due == domain.StatusActive {
			return nil
		}
	}

	closedAt := now
	a.Status = due
	a.ClosedAt = &closedAt
	a.UpdatedAt = now

	s := &settlement{auctionID: a.ID}
	if due == domain.StatusSold {
		winner := *a.HighestBidderID
		a.WinnerID = &winner
		price := a.CurrentBid
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventSold, &winner, &price, now,
			"sold to %s for %s", winner, price.StringFixed(2)))
		if res, ok := tx.DropReservation(winner); ok {
			s.capture = &res
			s.captureAmount = price
		}
	} else {
		reason := "no bids"
		if a.BidCount > 0 {
			reason = "reserve not met"
		}
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventEnded, nil, nil, now,
			"ended without a sale: %s", reason))
	}

	for bidder := range tx.Reservations() {
		res, _ := tx.DropReservation(bidder)
		s.release = append(s.release, res)
	}
	return s
}

// advance commits any due transitions for one auction and returns the
// resulting state. Auctions with nothing due are returned without taking the
// exclusion.
func (l *lifecycle) advance(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DueStatus(l.clock.Now()) == a.Status {
		return a, nil
	}

	var owed *settlement
	commit, err := l.store.Update(ctx, id, func(tx *store.Tx) error {
		owed = applyDue(tx, l.clock.Now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle.advance: %w", err)
	}
	for _, e := range commit.Entries {
		l.log.Info("auction transitioned",
			"auction_id", id, "event", e.EventType, "status", commit.Auction.Status)
	}
	l.settle(ctx, owed)
	return commit.Auction, nil
}

// settle performs the ledger calls owed after a commit. Failures are logged;
// the committed transition stands and the reservation ids are kept in the log
// for reconciliation.
func (l *lifecycle) settle(ctx context.Context, s *settlement) {
	if s.empty() {
		return
	}
	// The transition is committed; a caller hanging up must not strand funds.
	ctx = context.WithoutCancel(ctx)
	if s.capture != nil {
		if err := l.ledger.Capture(ctx, *s.capture, s.captureAmount); err != nil {
			l.log.Error("capture failed",
				"auction_id", s.auctionID, "reservation_id", *s.capture, "err", err)
		}
	}
	l.release(ctx, s.auctionID, s.release...)
}

func (l *lifecycle) release(ctx context.Context, auctionID uuid.UUID, ids ...uuid.UUID) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := l.ledger.Release(ctx, id); err != nil {
			l.log.Error("release failed",
				"auction_id", auctionID, "reservation_id", id, "err", err)
		}
	}
}
