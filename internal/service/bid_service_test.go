package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/ledger"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestPlaceBid_BelowStartingBidRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	bidder := uuid.New()

	_, err := f.bids.PlaceBid(ctx, a.ID, bidder, money(90))
	check.True(t, errors.Is(err, domain.ErrBidTooLow))
	check.True(t, domain.IsValidation(err))

	got := f.get(t, a.ID)
	check.Equal(t, uint(0), got.BidCount)
	check.True(t, got.CurrentBid.Equal(money(100)))
	check.Equal(t, 0, countEvents(f.history(t, a.ID), domain.EventBid))

	// The doomed bid never reached the ledger.
	_, err = f.ledger.Balance(ctx, bidder)
	check.True(t, errors.Is(err, domain.ErrAccountNotFound))
}

func TestPlaceBid_FirstBidAtStartingBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	bidder := uuid.New()

	res, err := f.bids.PlaceBid(ctx, a.ID, bidder, money(100))
	assert.NoError(t, err)
	check.True(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(100)))
	check.Equal(t, uint(1), res.BidCount)
	check.True(t, res.MinimumNextBid.Equal(money(110)))
	check.Equal(t, bidder, *res.HighestBidderID)

	got := f.get(t, a.ID)
	check.Equal(t, uint(1), got.BidCount)
	check.True(t, f.balance(t, bidder).Locked.Equal(money(100)))
}

func TestPlaceBid_ManualBidLosesToStandingProxy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	res, err := f.bids.PlaceProxyBid(ctx, a.ID, alice, money(300))
	assert.NoError(t, err)
	check.True(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(100))) // never jumps against an empty field

	res, err = f.bids.PlaceBid(ctx, a.ID, bob, money(150))
	assert.NoError(t, err)
	check.False(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(160))) // 150 + 10 at the 100 tier
	check.Equal(t, alice, *res.HighestBidderID)
	check.Equal(t, uint(3), res.BidCount)
	check.True(t, res.MinimumNextBid.Equal(money(170)))
	assert.NotNil(t, res.CounterBid)
	check.True(t, res.CounterBid.AutoBid)
	check.Equal(t, alice, res.CounterBid.BidderID)

	bids, err := f.auctions.GetBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 3, len(bids))
	check.False(t, bids[1].Winning)
	check.Equal(t, bob, bids[1].BidderID)

	// Bob's hold went back; Alice still holds her maximum.
	check.True(t, f.balance(t, bob).Locked.IsZero())
	check.True(t, f.balance(t, alice).Locked.Equal(money(300)))

	// History describes the resolved winning bid, not the loser.
	var bidEntries []*domain.HistoryEntry
	for _, e := range f.history(t, a.ID) {
		if e.EventType == domain.EventBid {
			bidEntries = append(bidEntries, e)
		}
	}
	check.Equal(t, 2, len(bidEntries))
	check.Equal(t, alice, *bidEntries[1].ActorID)
	check.True(t, bidEntries[1].Amount.Equal(money(160)))
}

func TestPlaceBid_ProxyCounterUsesFlatLowTier(t *testing.T) {
	ctx := context.Background()
	policy, err := domain.NewIncrementPolicy([]domain.IncrementStep{
		{From: money(0), Increment: money(5)},
		{From: money(500), Increment: money(25)},
		{From: money(1000), Increment: money(50)},
	})
	assert.NoError(t, err)
	f := newFixture(t, withPolicy(policy))
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	_, err = f.bids.PlaceProxyBid(ctx, a.ID, alice, money(300))
	assert.NoError(t, err)
	res, err := f.bids.PlaceBid(ctx, a.ID, bob, money(150))
	assert.NoError(t, err)

	check.False(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(155)))
	check.Equal(t, alice, *res.HighestBidderID)
}

func TestPlaceBid_ProxyCounterCappedAtMaximum(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, alice, money(300))
	assert.NoError(t, err)
	res, err := f.bids.PlaceBid(ctx, a.ID, bob, money(295))
	assert.NoError(t, err)
	check.False(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(300)))

	// The standing maximum is spent; the next bid wins outright.
	res, err = f.bids.PlaceBid(ctx, a.ID, bob, money(310))
	assert.NoError(t, err)
	check.True(t, res.Won)
	check.Equal(t, bob, *res.HighestBidderID)
	check.True(t, f.balance(t, alice).Locked.IsZero())
}

func TestPlaceBid_HigherProxyBeatsStandingProxy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, alice, money(300))
	assert.NoError(t, err)
	res, err := f.bids.PlaceProxyBid(ctx, a.ID, bob, money(500))
	assert.NoError(t, err)

	check.True(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(310))) // one increment above the beaten maximum
	check.Equal(t, bob, *res.HighestBidderID)
	check.Equal(t, uint(2), res.BidCount)
	check.Equal(t, 1, countEvents(f.history(t, a.ID), domain.EventOutbid))
	check.True(t, f.balance(t, alice).Locked.IsZero())
	check.True(t, f.balance(t, bob).Locked.Equal(money(500)))
}

func TestPlaceBid_EqualProxyGoesToEarlierBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, alice, money(300))
	assert.NoError(t, err)
	res, err := f.bids.PlaceProxyBid(ctx, a.ID, bob, money(300))
	assert.NoError(t, err)

	check.False(t, res.Won)
	check.True(t, res.CurrentBid.Equal(money(300)))
	check.Equal(t, alice, *res.HighestBidderID)
}

func TestPlaceBid_ProxyBelowMinimumRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, uuid.New(), money(80))
	check.True(t, errors.Is(err, domain.ErrBidTooLow))

	_, err = f.bids.Place(ctx, domain.PlaceBidRequest{
		AuctionID: a.ID,
		BidderID:  uuid.New(),
		Amount:    money(200),
		ProxyMax:  moneyPtr(150),
	})
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))
}

func TestPlaceBid_SelfOutbidRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	bidder := uuid.New()

	_, err := f.bids.PlaceBid(ctx, a.ID, bidder, money(100))
	assert.NoError(t, err)
	_, err = f.bids.PlaceBid(ctx, a.ID, bidder, money(200))
	check.True(t, errors.Is(err, domain.ErrSelfOutbid))
	check.True(t, domain.IsValidation(err))
	check.True(t, f.get(t, a.ID).CurrentBid.Equal(money(100)))
}

func TestPlaceBid_OutbidReleasesPreviousLeader(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := f.bids.PlaceBid(ctx, a.ID, alice, money(100))
	assert.NoError(t, err)
	res, err := f.bids.PlaceBid(ctx, a.ID, bob, money(110))
	assert.NoError(t, err)
	check.True(t, res.Won)

	check.True(t, f.balance(t, alice).Locked.IsZero())
	check.True(t, f.balance(t, bob).Locked.Equal(money(110)))

	h := f.history(t, a.ID)
	last := h[len(h)-1]
	check.Equal(t, domain.EventOutbid, last.EventType)
	check.Equal(t, alice, *last.ActorID)
}

func TestPlaceBid_ReserveMetExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t, func(r *domain.CreateAuctionRequest) { r.ReservePrice = moneyPtr(200) })

	steps := []struct {
		amount int64
		met    bool
	}{
		{100, false},
		{150, false},
		{210, true},
		{220, true},
	}
	for _, s := range steps {
		_, err := f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(s.amount))
		assert.NoError(t, err)
		check.Equal(t, s.met, f.get(t, a.ID).ReserveMet)
	}

	h := f.history(t, a.ID)
	check.Equal(t, 1, countEvents(h, domain.EventReserveMet))
	for _, e := range h {
		if e.EventType == domain.EventReserveMet {
			check.True(t, e.Amount.Equal(money(210)))
		}
	}
}

func TestPlaceBid_SnipeProtectionExtendsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	now := f.clk.Advance(time.Hour - 30*time.Second)
	res, err := f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(100))
	assert.NoError(t, err)
	check.True(t, res.EndsAt.Equal(now.Add(2*time.Minute)))
	check.Equal(t, 1, countEvents(f.history(t, a.ID), domain.EventExtended))

	// Remaining time now equals the window: no further extension.
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(110))
	assert.NoError(t, err)
	check.Equal(t, 1, countEvents(f.history(t, a.ID), domain.EventExtended))
	check.True(t, f.get(t, a.ID).EndsAt.Equal(now.Add(2*time.Minute)))
}

func TestPlaceBid_NoExtensionOutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	f.clk.Advance(30 * time.Minute)
	res, err := f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(100))
	assert.NoError(t, err)
	check.True(t, res.EndsAt.Equal(a.EndsAt))
	check.Equal(t, 0, countEvents(f.history(t, a.ID), domain.EventExtended))
}

func TestPlaceBid_ClosedAuctionRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	f.clk.Advance(2 * time.Hour)
	ended, err := f.auctions.GetAuction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, domain.StatusEnded, ended.Status)
	before := len(f.history(t, a.ID))

	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(500))
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))
	check.True(t, domain.IsState(err))

	got := f.get(t, a.ID)
	check.Equal(t, domain.StatusEnded, got.Status)
	check.Equal(t, uint(0), got.BidCount)
	check.Equal(t, before, len(f.history(t, a.ID)))
}

func TestPlaceBid_PastEndClosesInsteadOfAccepting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice := uuid.New()
	_, err := f.bids.PlaceBid(ctx, a.ID, alice, money(100))
	assert.NoError(t, err)

	// No sweep has run; the late bid itself triggers the close.
	f.clk.Advance(time.Hour)
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(150))
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))

	got := f.get(t, a.ID)
	check.Equal(t, domain.StatusSold, got.Status)
	check.Equal(t, alice, *got.WinnerID)
}

func TestPlaceBid_UnknownAuction(t *testing.T) {
	f := newFixture(t)
	_, err := f.bids.PlaceBid(context.Background(), uuid.New(), uuid.New(), money(100))
	check.True(t, errors.Is(err, domain.ErrAuctionNotFound))
	check.True(t, domain.IsNotFound(err))
}

func TestPlaceBid_InsufficientFundsLeavesNoState(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemory()
	f := newFixture(t, withLedger(l))
	a := f.openAuction(t)
	poor := uuid.New()
	assert.NoError(t, l.Deposit(ctx, poor, money(50)))

	_, err := f.bids.PlaceBid(ctx, a.ID, poor, money(100))
	check.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	check.True(t, domain.IsLedger(err))

	got := f.get(t, a.ID)
	check.Equal(t, uint(0), got.BidCount)
	check.True(t, got.HighestBidderID == nil)
	bids, err := f.auctions.GetBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))

	// Unknown accounts surface as ledger failures too.
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(100))
	check.True(t, domain.IsLedger(err))
	check.True(t, errors.Is(err, domain.ErrAccountNotFound))
}

func TestPlaceBid_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	_, err := f.bids.PlaceBid(ctx, a.ID, uuid.Nil, money(100))
	check.True(t, errors.Is(err, domain.ErrMissingField))
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(-5))
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))
	_, err = f.bids.PlaceProxyBid(ctx, a.ID, uuid.New(), decimal.Zero)
	check.True(t, errors.Is(err, domain.ErrInvalidAmount))
}

// A standing proxy holds the lead against every challenge up to its maximum
// and the price never passes that maximum while it leads.
func TestPlaceBid_ProxyDominance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)
	alice := uuid.New()
	ceiling := money(1000)

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, alice, ceiling)
	assert.NoError(t, err)

	for i := 0; i < 50; i++ {
		minNext, err := f.auctions.MinimumNextBid(ctx, a.ID)
		assert.NoError(t, err)
		if minNext.GreaterThan(ceiling) {
			break
		}
		res, err := f.bids.PlaceBid(ctx, a.ID, uuid.New(), minNext)
		assert.NoError(t, err)
		check.False(t, res.Won)
		check.Equal(t, alice, *res.HighestBidderID)
		check.True(t, res.CurrentBid.LessThanOrEqual(ceiling))
	}

	res, err := f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(1100))
	assert.NoError(t, err)
	check.True(t, res.Won)
	check.True(t, f.balance(t, alice).Locked.IsZero())
}

// Every commit leaves price and end time no lower than before, every bid is
// at least the minimum of the state it was placed against, and the history
// chain stays intact.
func TestPlaceBid_MonotonicUnderContention(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t, func(r *domain.CreateAuctionRequest) { r.ReservePrice = moneyPtr(400) })
	f.clk.Advance(time.Hour - time.Minute) // inside the snipe window

	const bidders = 30
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bidder := uuid.New()
			for attempt := 0; attempt < 20; attempt++ {
				minNext, err := f.auctions.MinimumNextBid(ctx, a.ID)
				if err != nil {
					return
				}
				var res *domain.BidResult
				if i%3 == 0 {
					res, err = f.bids.PlaceProxyBid(ctx, a.ID, bidder, minNext.Add(money(int64(10*i))))
				} else {
					res, err = f.bids.PlaceBid(ctx, a.ID, bidder, minNext)
				}
				if err == nil && res.Won {
					return
				}
				if err != nil && !domain.IsValidation(err) {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	prevBid := money(0)
	prevEnd := time.Time{}
	reserveSeen := false
	for _, c := range f.committed() {
		check.True(t, c.Auction.CurrentBid.GreaterThanOrEqual(prevBid))
		check.False(t, c.Auction.EndsAt.Before(prevEnd))
		if reserveSeen {
			check.True(t, c.Auction.ReserveMet)
		}
		reserveSeen = c.Auction.ReserveMet
		prevBid, prevEnd = c.Auction.CurrentBid, c.Auction.EndsAt
	}

	final := f.get(t, a.ID)
	h := f.history(t, a.ID)
	idx, err := domain.VerifyHistory(h)
	check.NoError(t, err)
	check.Equal(t, -1, idx)
	check.True(t, countEvents(h, domain.EventReserveMet) <= 1)

	// Only the leader still holds funds on this auction.
	bids, err := f.auctions.GetBids(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, int(final.BidCount), len(bids))
	seen := map[uuid.UUID]bool{}
	for _, b := range bids {
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		bal := f.balance(t, b.BidderID)
		if final.IsHighestBidder(b.BidderID) {
			check.True(t, bal.Locked.GreaterThanOrEqual(final.CurrentBid))
		} else {
			check.True(t, bal.Locked.IsZero())
		}
	}
}

// Each committed mutation carries history, in commit order.
func TestPlaceBid_HistoryCompleteness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.openAuction(t)

	_, err := f.bids.PlaceProxyBid(ctx, a.ID, uuid.New(), money(400))
	assert.NoError(t, err)
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(200))
	assert.NoError(t, err)
	_, err = f.bids.PlaceBid(ctx, a.ID, uuid.New(), money(500))
	assert.NoError(t, err)

	var seq uint64
	for _, c := range f.committed() {
		check.True(t, len(c.Entries) > 0)
		for _, e := range c.Entries {
			seq++
			check.Equal(t, seq, e.Seq)
		}
	}
	h := f.history(t, a.ID)
	check.Equal(t, int(seq), len(h))
	types := make([]domain.EventType, len(h))
	for i, e := range h {
		types[i] = e.EventType
	}
	check.Equal(t, []domain.EventType{
		domain.EventStarted,
		domain.EventBid, domain.EventReserveMet, // opening proxy, no reserve set
		domain.EventBid,                         // proxy held against 200
		domain.EventBid, domain.EventOutbid,     // 500 takes the lead
	}, types)
}
