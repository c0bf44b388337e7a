package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// record holds one auction and everything that shares its lifetime.
type record struct {
	// sem is the per-auction exclusion: a one-slot semaphore so waiting
	// writers can give up on context cancellation or timeout.
	sem chan struct{}

	// mu guards the fields below for readers; writers swap them only while
	// holding sem.
	mu           sync.RWMutex
	auction      *domain.Auction
	bids         []*domain.Bid
	history      []*domain.HistoryEntry
	reservations map[uuid.UUID]uuid.UUID
}

func (r *record) acquire(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrLockTimeout, ctx.Err())
	}
}

func (r *record) release() { <-r.sem }

// Memory is an in-process AuctionStore. Different auctions never contend;
// writers on the same auction queue on its semaphore.
type Memory struct {
	mu          sync.RWMutex
	records     map[uuid.UUID]*record
	lockTimeout time.Duration
	hooks       []CommitHook
}

// Option configures a Memory store.
type Option func(*Memory)

// WithLockTimeout bounds how long Update waits for an auction's exclusion.
// Zero waits until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Memory) { m.lockTimeout = d }
}

// WithCommitHook registers a hook run after every commit.
func WithCommitHook(h CommitHook) Option {
	return func(m *Memory) { m.hooks = append(m.hooks, h) }
}

// NewMemory creates an empty store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{records: make(map[uuid.UUID]*record)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnCommit registers a hook after construction, for components built later
// than the store.
func (m *Memory) OnCommit(h CommitHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

func (m *Memory) lookup(id uuid.UUID) (*record, error) {
	m.mu.RLock()
	r, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	return r, nil
}

// Create inserts a new auction.
func (m *Memory) Create(_ context.Context, a *domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[a.ID]; ok {
		return fmt.Errorf("store.Create: %s: %w", a.ID, ErrAlreadyExists)
	}
	m.records[a.ID] = &record{
		sem:          make(chan struct{}, 1),
		auction:      a.Clone(),
		reservations: make(map[uuid.UUID]uuid.UUID),
	}
	return nil
}

// Get returns a copy of the auction.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (*domain.Auction, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.auction.Clone(), nil
}

// List returns a page of auctions, newest first, and the total match count.
func (m *Memory) List(_ context.Context, f ListFilter) ([]*domain.Auction, int, error) {
	m.mu.RLock()
	all := make([]*domain.Auction, 0, len(m.records))
	for _, r := range m.records {
		r.mu.RLock()
		if f.Status == "" || r.auction.Status == f.Status {
			all = append(all, r.auction.Clone())
		}
		r.mu.RUnlock()
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= total {
			return []*domain.Auction{}, total, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

// Bids returns copies of every bid on the auction in submission order.
func (m *Memory) Bids(_ context.Context, id uuid.UUID) ([]*domain.Bid, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Bid, len(r.bids))
	for i, b := range r.bids {
		out[i] = b.Clone()
	}
	return out, nil
}

// History returns copies of the auction's history in commit order.
func (m *Memory) History(_ context.Context, id uuid.UUID) ([]*domain.HistoryEntry, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.HistoryEntry, len(r.history))
	for i, e := range r.history {
		out[i] = e.Clone()
	}
	return out, nil
}

// DueForTransition returns the ids of auctions whose time-driven status at
// now differs from their stored status.
func (m *Memory) DueForTransition(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for id, r := range m.records {
		r.mu.RLock()
		if r.auction.DueStatus(now) != r.auction.Status {
			ids = append(ids, id)
		}
		r.mu.RUnlock()
	}
	return ids, nil
}

// Update implements AuctionStore.
func (m *Memory) Update(ctx context.Context, id uuid.UUID, fn func(tx *Tx) error) (*Commit, error) {
	r, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := r.acquire(ctx, m.lockTimeout); err != nil {
		return nil, err
	}
	defer r.release()

	// Writers are excluded by sem, so the committed slices are stable here.
	r.mu.RLock()
	prev := r.auction
	tx := newTx(prev, r.bids, r.reservations)
	r.mu.RUnlock()

	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := checkInvariants(prev, tx.Auction, len(tx.entries)); err != nil {
		return nil, fmt.Errorf("store.Update %s: %w", id, err)
	}

	r.mu.Lock()
	seq := uint64(len(r.history))
	prevHash := ""
	if seq > 0 {
		prevHash = r.history[seq-1].Hash
	}
	for _, e := range tx.entries {
		e.AuctionID = id
		seq++
		e.Seal(seq, prevHash)
		prevHash = e.Hash
	}
	r.auction = tx.Auction.Clone()
	for _, b := range tx.newBids {
		r.bids = append(r.bids, b.Clone())
	}
	for _, e := range tx.entries {
		r.history = append(r.history, e.Clone())
	}
	r.reservations = tx.reservations
	r.mu.Unlock()

	commit := &Commit{
		Auction: tx.Auction.Clone(),
		Bids:    make([]*domain.Bid, len(tx.newBids)),
		Entries: make([]*domain.HistoryEntry, len(tx.entries)),
	}
	for i, b := range tx.newBids {
		commit.Bids[i] = b.Clone()
	}
	for i, e := range tx.entries {
		commit.Entries[i] = e.Clone()
	}

	m.mu.RLock()
	hooks := m.hooks
	m.mu.RUnlock()
	for _, h := range hooks {
		h(commit)
	}
	return commit, nil
}
