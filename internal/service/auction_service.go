package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/auction/internal/clock"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// AuctionService
// ──────────────────────────────────────────────────────────────────────────────

// AuctionService owns auction creation and every status transition:
// scheduled start and close, cancellation, and the settlement of funds that
// goes with closing.
type AuctionService struct {
	lc     *lifecycle
	policy domain.IncrementPolicy
	cfg    config.AuctionConfig
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(
	st store.AuctionStore,
	ledger Ledger,
	policy domain.IncrementPolicy,
	clk clock.Clock,
	cfg config.AuctionConfig,
	log *slog.Logger,
) *AuctionService {
	return &AuctionService{
		lc:     &lifecycle{store: st, ledger: ledger, clock: clk, log: log},
		policy: policy,
		cfg:    cfg,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateAuction
// ──────────────────────────────────────────────────────────────────────────────

// CreateAuction validates the request and stores a new Pending auction. A zero
// StartsAt means now. If the start time has already passed the auction is
// started before it is returned.
func (s *AuctionService) CreateAuction(ctx context.Context, req domain.CreateAuctionRequest) (*domain.Auction, error) {
	now := s.lc.clock.Now()
	if req.StartsAt.IsZero() {
		req.StartsAt = now
	}
	if err := req.Validate(s.cfg.MaxSnipeWindow); err != nil {
		return nil, fmt.Errorf("auction_service.CreateAuction: %w", err)
	}

	var reserve *decimal.Decimal
	if req.ReservePrice != nil {
		rp := *req.ReservePrice
		reserve = &rp
	}
	a := &domain.Auction{
		ID:                    uuid.New(),
		HostID:                req.HostID,
		Title:                 req.Title,
		Description:           req.Description,
		Category:              req.Category,
		StartingBid:           req.StartingBid,
		CurrentBid:            req.StartingBid,
		ReservePrice:          reserve,
		Status:                domain.StatusPending,
		SnipeProtectionWindow: req.SnipeProtectionWindow,
		StartsAt:              req.StartsAt.UTC(),
		EndsAt:                req.EndsAt.UTC(),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.lc.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("auction_service.CreateAuction: create: %w", err)
	}
	s.lc.log.Info("auction created",
		"auction_id", a.ID, "host_id", a.HostID, "starts_at", a.StartsAt, "ends_at", a.EndsAt)

	return s.lc.advance(ctx, a.ID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// GetAuction returns the auction after applying any transition that is due.
func (s *AuctionService) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	a, err := s.lc.advance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.GetAuction: %w", err)
	}
	return a, nil
}

// ListAuctions returns one page of auction summaries, newest first, and the
// total number of matches.
func (s *AuctionService) ListAuctions(ctx context.Context, f store.ListFilter) ([]domain.AuctionSummary, int, error) {
	auctions, total, err := s.lc.store.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("auction_service.ListAuctions: %w", err)
	}

	now := s.lc.clock.Now()
	out := make([]domain.AuctionSummary, 0, len(auctions))
	for _, a := range auctions {
		if a.DueStatus(now) != a.Status {
			if fresh, err := s.lc.advance(ctx, a.ID); err == nil {
				a = fresh
			}
		}
		out = append(out, a.ToSummary(s.policy, now))
	}
	return out, total, nil
}

// GetBids returns every bid on the auction in submission order.
func (s *AuctionService) GetBids(ctx context.Context, id uuid.UUID) ([]*domain.Bid, error) {
	bids, err := s.lc.store.Bids(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.GetBids: %w", err)
	}
	return bids, nil
}

// GetHistory returns the auction's history in commit order.
func (s *AuctionService) GetHistory(ctx context.Context, id uuid.UUID) ([]*domain.HistoryEntry, error) {
	entries, err := s.lc.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.GetHistory: %w", err)
	}
	return entries, nil
}

// HistoryAudit is the result of re-verifying an auction's hash chain.
type HistoryAudit struct {
	AuctionID uuid.UUID `json:"auction_id"`
	Entries   int       `json:"entries"`
	Intact    bool      `json:"intact"`
	BrokenAt  int       `json:"broken_at"` // index of the first bad entry, -1 if intact
	Reason    string    `json:"reason,omitempty"`
}

// VerifyHistory recomputes the auction's history chain.
func (s *AuctionService) VerifyHistory(ctx context.Context, id uuid.UUID) (*HistoryAudit, error) {
	entries, err := s.lc.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auction_service.VerifyHistory: %w", err)
	}
	audit := &HistoryAudit{AuctionID: id, Entries: len(entries), Intact: true, BrokenAt: -1}
	if idx, err := domain.VerifyHistory(entries); err != nil {
		audit.Intact = false
		audit.BrokenAt = idx
		audit.Reason = err.Error()
		s.lc.log.Warn("history chain broken", "auction_id", id, "index", idx, "err", err)
	}
	return audit, nil
}

// MinimumNextBid returns the smallest amount the next bid must carry.
func (s *AuctionService) MinimumNextBid(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	a, err := s.lc.advance(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("auction_service.MinimumNextBid: %w", err)
	}
	return s.policy.MinimumNextBid(a), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CancelAuction
// ──────────────────────────────────────────────────────────────────────────────

// CancelAuction voids a Pending or Active auction and releases every hold on
// it. It competes for the same exclusion as bids, so a bid already being
// resolved completes first. If the auction turns out to be due to close, the
// close is committed instead and ErrAuctionClosed is returned.
func (s *AuctionService) CancelAuction(ctx context.Context, id, actorID uuid.UUID, reason string) (*domain.Auction, error) {
	if actorID == uuid.Nil {
		return nil, fmt.Errorf("auction_service.CancelAuction: actor: %w", domain.ErrMissingField)
	}

	var (
		owed   *settlement
		closed bool
	)
	commit, err := s.lc.store.Update(ctx, id, func(tx *store.Tx) error {
		now := s.lc.clock.Now()
		owed = applyDue(tx, now)

		a := tx.Auction
		if a.Status.IsTerminal() {
			if len(tx.Entries()) == 0 {
				return domain.ErrAuctionClosed
			}
			closed = true
			return nil
		}

		closedAt := now
		a.Status = domain.StatusCancelled
		a.CancelReason = reason
		a.ClosedAt = &closedAt
		a.UpdatedAt = now
		tx.Append(domain.NewHistoryEntry(a.ID, domain.EventCancelled, &actorID, nil, now,
			"cancelled by %s: %s", actorID, reason))

		if owed == nil {
			owed = &settlement{auctionID: a.ID}
		}
		for bidder := range tx.Reservations() {
			res, _ := tx.DropReservation(bidder)
			owed.release = append(owed.release, res)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("auction_service.CancelAuction: %w", err)
	}
	s.lc.settle(ctx, owed)

	if closed {
		return nil, fmt.Errorf("auction_service.CancelAuction: %w", domain.ErrAuctionClosed)
	}
	s.lc.log.Info("auction cancelled",
		"auction_id", id, "actor_id", actorID, "released", len(owed.release))
	return commit.Auction, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SweepDue
// ──────────────────────────────────────────────────────────────────────────────

// SweepDue applies every transition that is due now and returns how many
// auctions moved. One failing auction does not stop the sweep.
func (s *AuctionService) SweepDue(ctx context.Context) (int, error) {
	ids, err := s.lc.store.DueForTransition(ctx, s.lc.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("auction_service.SweepDue: list due: %w", err)
	}

	var (
		moved int
		errs  []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.lc.advance(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("auction %s: %w", id, err))
			continue
		}
		moved++
	}
	if len(errs) > 0 {
		return moved, fmt.Errorf("auction_service.SweepDue: %w", errors.Join(errs...))
	}
	return moved, nil
}
