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

// ──────────────────────────────────────────────────────────────────────────────
// BidService
// ──────────────────────────────────────────────────────────────────────────────

// BidService accepts manual and proxy bids and resolves them against any
// standing proxy. It is the only writer of an auction's price, leader, bid
// count and reserve flag.
type BidService struct {
	lc     *lifecycle
	policy domain.IncrementPolicy
}

// NewBidService creates a BidService.
func NewBidService(
	st store.AuctionStore,
	ledger Ledger,
	policy domain.IncrementPolicy,
	clk clock.Clock,
	log *slog.Logger,
) *BidService {
	return &BidService{
		lc:     &lifecycle{store: st, ledger: ledger, clock: clk, log: log},
		policy: policy,
	}
}

// PlaceBid submits a manual bid of amount.
func (s *BidService) PlaceBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*domain.BidResult, error) {
	return s.place(ctx, domain.PlaceBidRequest{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
	})
}

// PlaceProxyBid submits a proxy bid. The opening amount is the current
// minimum; maxAmount stays hidden and is only spent on later challenges.
func (s *BidService) PlaceProxyBid(ctx context.Context, auctionID, bidderID uuid.UUID, maxAmount decimal.Decimal) (*domain.BidResult, error) {
	ceiling := maxAmount
	return s.place(ctx, domain.PlaceBidRequest{
		AuctionID: auctionID,
		BidderID:  bidderID,
		ProxyMax:  &ceiling,
	})
}

// Place submits an arbitrary request; a proxy request may carry an explicit
// opening amount.
func (s *BidService) Place(ctx context.Context, req domain.PlaceBidRequest) (*domain.BidResult, error) {
	return s.place(ctx, req)
}

func (s *BidService) place(ctx context.Context, req domain.PlaceBidRequest) (*domain.BidResult, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if err := validateRequest(req); err != nil {
		return nil, fmt.Errorf("bid_service.PlaceBid: %w", err)
	}

	// ── 2. Fresh read, applying any due transition ───────────────────────────
	snapshot, err := s.lc.advance(ctx, req.AuctionID)
	if err != nil {
		return nil, fmt.Errorf("bid_service.PlaceBid: %w", err)
	}

	// ── 3. Pre-check against the snapshot so doomed bids never touch funds ──
	amount, err := s.check(snapshot, req, s.lc.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("bid_service.PlaceBid: %w", err)
	}
	hold := req
	hold.Amount = amount

	// ── 4. Reserve funds outside the exclusion ──────────────────────────────
	reservationID, err := s.lc.ledger.Reserve(ctx, req.BidderID, hold.Exposure())
	if err != nil {
		return nil, ledgerError("bid_service.PlaceBid: reserve", err)
	}

	// ── 5. Resolve under the exclusion ──────────────────────────────────────
	var out *resolution
	commit, err := s.lc.store.Update(ctx, req.AuctionID, func(tx *store.Tx) error {
		r, err := s.resolve(tx, req, reservationID, s.lc.clock.Now())
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		s.lc.release(ctx, req.AuctionID, reservationID)
		return nil, fmt.Errorf("bid_service.PlaceBid: %w", err)
	}

	// ── 6. Return holds nobody needs any more ───────────────────────────────
	s.lc.release(ctx, req.AuctionID, out.release...)

	a := commit.Auction
	s.lc.log.Info("bid resolved",
		"auction_id", a.ID, "bidder_id", req.BidderID, "won", out.won,
		"current_bid", a.CurrentBid.String(), "bid_count", a.BidCount)

	return &domain.BidResult{
		Won:             out.won,
		CurrentBid:      a.CurrentBid,
		MinimumNextBid:  s.policy.MinimumNextBid(a),
		HighestBidderID: a.HighestBidderID,
		BidCount:        a.BidCount,
		EndsAt:          a.EndsAt,
		Bid:             out.bid,
		CounterBid:      out.counter,
	}, nil
}

func validateRequest(req domain.PlaceBidRequest) error {
	if req.AuctionID == uuid.Nil || req.BidderID == uuid.Nil {
		return domain.ErrMissingField
	}
	if req.IsProxy() {
		if !req.ProxyMax.IsPositive() || req.Amount.IsNegative() {
			return domain.ErrInvalidAmount
		}
		if req.ProxyMax.LessThan(req.Amount) {
			return fmt.Errorf("%w: proxy maximum %s is below the opening amount %s",
				domain.ErrInvalidAmount, req.ProxyMax, req.Amount)
		}
		return nil
	}
	if !req.Amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	return nil
}

// check applies the acceptance rules to a and returns the amount the request
// bids. A proxy request without an opening amount bids the current minimum.
func (s *BidService) check(a *domain.Auction, req domain.PlaceBidRequest, now time.Time) (decimal.Decimal, error) {
	if a.Status != domain.StatusActive || a.DueStatus(now) != domain.StatusActive {
		return decimal.Zero, fmt.Errorf("%w: status %s", domain.ErrAuctionNotActive, a.Status)
	}

	minNext := s.policy.MinimumNextBid(a)
	amount := req.Amount
	if req.IsProxy() && amount.IsZero() {
		amount = minNext
	}
	ceiling := amount
	if req.IsProxy() {
		ceiling = *req.ProxyMax
	}
	if amount.LessThan(minNext) || ceiling.LessThan(minNext) {
		return decimal.Zero, fmt.Errorf("%w: minimum is %s", domain.ErrBidTooLow, minNext.StringFixed(2))
	}
	if a.IsHighestBidder(req.BidderID) {
		return decimal.Zero, domain.ErrSelfOutbid
	}
	return amount, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────────────────────────────────

type resolution struct {
	won     bool
	bid     *domain.Bid
	counter *domain.Bid
	release []uuid.UUID
}

// resolve decides the outcome of req against the committed state in tx and
// writes it.
func (s *BidService) resolve(tx *store.Tx, req domain.PlaceBidRequest, reservationID uuid.UUID, now time.Time) (*resolution, error) {
	a := tx.Auction

	// The snapshot may be stale; the rules are re-applied on committed state.
	amount, err := s.check(a, req, now)
	if err != nil {
		return nil, err
	}

	incoming := &domain.Bid{
		ID:        uuid.New(),
		AuctionID: a.ID,
		BidderID:  req.BidderID,
		Amount:    amount,
		IsProxy:   req.IsProxy(),
		CreatedAt: now,
	}
	ceiling := amount
	if req.IsProxy() {
		m := *req.ProxyMax
		incoming.ProxyMax = &m
		ceiling = m
	}

	var (
		out            = &resolution{bid: incoming}
		priceBefore    = a.CurrentBid
		reserveBefore  = a.ReserveMet
		previousLeader = a.HighestBidderID
		standing       = standingProxy(tx)
	)

	// A standing proxy beats any challenge up to and including its maximum;
	// equal ceilings go to the earlier bid.
	if standing != nil && standing.ProxyMax.GreaterThanOrEqual(ceiling) {
		counterAmount := decimal.Min(*standing.ProxyMax, ceiling.Add(s.policy.MinimumIncrement(priceBefore)))
		standingMax := *standing.ProxyMax
		counter := &domain.Bid{
			ID:        uuid.New(),
			AuctionID: a.ID,
			BidderID:  standing.BidderID,
			Amount:    counterAmount,
			IsProxy:   true,
			ProxyMax:  &standingMax,
			AutoBid:   true,
			Winning:   true,
			CreatedAt: now,
		}
		tx.AddBid(incoming)
		tx.AddBid(counter)

		a.CurrentBid = counterAmount
		a.BidCount += 2
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventBid, &counter.BidderID, &counterAmount, now,
			"proxy bid %s held the lead against %s", counterAmount.StringFixed(2), amount.StringFixed(2)))

		out.counter = counter
		out.release = append(out.release, reservationID)
	} else {
		price := amount
		if standing != nil && req.IsProxy() {
			// Both proxies are in play: the price settles one increment above
			// the beaten maximum, capped by the winner's own maximum.
			beaten := *standing.ProxyMax
			price = decimal.Max(amount, decimal.Min(ceiling, beaten.Add(s.policy.MinimumIncrement(beaten))))
		}
		incoming.Amount = price
		incoming.Winning = true
		tx.AddBid(incoming)

		bidder := req.BidderID
		a.CurrentBid = price
		a.HighestBidderID = &bidder
		a.BidCount++
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventBid, &bidder, &price, now,
			"bid %s leads", price.StringFixed(2)))

		if previousLeader != nil {
			displaced := *previousLeader
			tx.Append(domain.NewHistoryEntry(a.ID, domain.EventOutbid, &displaced, &priceBefore, now,
				"outbid at %s", price.StringFixed(2)))
			if res, ok := tx.DropReservation(displaced); ok {
				out.release = append(out.release, res)
			}
		}
		if old, ok := tx.DropReservation(bidder); ok {
			out.release = append(out.release, old)
		}
		tx.SetReservation(bidder, reservationID)
		out.won = true
	}

	// ── Reserve ──────────────────────────────────────────────────────────────
	a.ReserveMet = reserveBefore || a.ReserveSatisfiedBy(a.CurrentBid)
	if a.ReserveMet && !reserveBefore {
		price := a.CurrentBid
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventReserveMet, nil, &price, now,
			"reserve met at %s", price.StringFixed(2)))
	}

	// ── Snipe protection, against the bid's own timestamp ───────────────────
	if endsAt, extended := domain.SnipeProtection(a.EndsAt, now, a.SnipeProtectionWindow); extended {
		previous := a.EndsAt
		a.EndsAt = endsAt
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventExtended, nil, nil, now,
			"end extended from %s to %s", previous.Format(time.RFC3339), endsAt.Format(time.RFC3339)))
	}

	a.UpdatedAt = now
	return out, nil
}

// standingProxy returns the most recent bid by the current leader that carries
// a proxy maximum, or nil.
func standingProxy(tx *store.Tx) *domain.Bid {
	leader := tx.Auction.HighestBidderID
	if leader == nil {
		return nil
	}
	bids := tx.Bids()
	for i := len(bids) - 1; i >= 0; i-- {
		b := bids[i]
		if b.BidderID == *leader && b.HasProxy() {
			return b
		}
	}
	return nil
}
