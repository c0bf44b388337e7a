package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/clock"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/ledger"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func moneyPtr(v int64) *decimal.Decimal {
	d := money(v)
	return &d
}

// fixture wires the engine the way cmd/server does, on a manual clock.
type fixture struct {
	clk      *clock.Manual
	store    *store.Memory
	ledger   *ledger.Memory
	bids     *service.BidService
	auctions *service.AuctionService

	mu      sync.Mutex
	commits []*store.Commit
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	policy domain.IncrementPolicy
	ledger *ledger.Memory
}

func withPolicy(p domain.IncrementPolicy) fixtureOption {
	return func(c *fixtureConfig) { c.policy = p }
}

func withLedger(l *ledger.Memory) fixtureOption {
	return func(c *fixtureConfig) { c.ledger = l }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fc := &fixtureConfig{
		policy: domain.DefaultIncrementPolicy(),
		ledger: ledger.NewMemory(ledger.WithOpeningBalance(money(100_000))),
	}
	for _, opt := range opts {
		opt(fc)
	}

	f := &fixture{clk: clock.NewManual(t0), ledger: fc.ledger}
	f.store = store.NewMemory(
		store.WithLockTimeout(time.Second),
		store.WithCommitHook(func(c *store.Commit) {
			f.mu.Lock()
			f.commits = append(f.commits, c)
			f.mu.Unlock()
		}),
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.AuctionConfig{
		LockTimeout:        time.Second,
		SweepInterval:      time.Second,
		DefaultSnipeWindow: 2 * time.Minute,
		MaxSnipeWindow:     30 * time.Minute,
	}
	f.bids = service.NewBidService(f.store, f.ledger, fc.policy, f.clk, log)
	f.auctions = service.NewAuctionService(f.store, f.ledger, fc.policy, f.clk, cfg, log)
	return f
}

// openAuction creates an auction that starts now and runs for an hour.
func (f *fixture) openAuction(t *testing.T, mutate ...func(*domain.CreateAuctionRequest)) *domain.Auction {
	t.Helper()
	req := domain.CreateAuctionRequest{
		HostID:                uuid.New(),
		Title:                 "Signed first edition",
		Category:              "books",
		StartingBid:           money(100),
		SnipeProtectionWindow: 2 * time.Minute,
		StartsAt:              f.clk.Now(),
		EndsAt:                f.clk.Now().Add(time.Hour),
	}
	for _, m := range mutate {
		m(&req)
	}
	a, err := f.auctions.CreateAuction(context.Background(), req)
	assert.NoError(t, err)
	return a
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *domain.Auction {
	t.Helper()
	a, err := f.store.Get(context.Background(), id)
	assert.NoError(t, err)
	return a
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []*domain.HistoryEntry {
	t.Helper()
	h, err := f.store.History(context.Background(), id)
	assert.NoError(t, err)
	return h
}

func (f *fixture) balance(t *testing.T, user uuid.UUID) ledger.Balance {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), user)
	assert.NoError(t, err)
	return b
}

func (f *fixture) committed() []*store.Commit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Commit, len(f.commits))
	copy(out, f.commits)
	return out
}

func countEvents(entries []*domain.HistoryEntry, typ domain.EventType) int {
	n := 0
	for _, e := range entries {
		if e.EventType == typ {
			n++
		}
	}
	return n
}
