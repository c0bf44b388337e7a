// Package ledger provides an in-process implementation of the funds boundary
// used by the bidding engine. It mirrors the wallet model of the PostgreSQL
// adapter: a balance plus a locked portion, with one hold per reservation.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationStatus is the settlement state of a hold.
type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationCaptured ReservationStatus = "captured"
	ReservationReleased ReservationStatus = "released"
)

// Reservation is one hold on a user's funds.
type Reservation struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Captured  decimal.Decimal   `json:"captured"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	SettledAt *time.Time        `json:"settled_at"`
}

// Balance is a read-only view of an account.
type Balance struct {
	Total     decimal.Decimal `json:"total"`
	Locked    decimal.Decimal `json:"locked"`
	Available decimal.Decimal `json:"available"`
}

type account struct {
	balance decimal.Decimal
	locked  decimal.Decimal
}

// Memory is a thread-safe Ledger kept in process memory.
type Memory struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*account
	reservations map[uuid.UUID]*Reservation
	opening      *decimal.Decimal
}

// Option configures a Memory ledger.
type Option func(*Memory)

// WithOpeningBalance opens unknown accounts on first use with amount.
// Without it, reserving for an unknown user fails with ErrAccountNotFound.
func WithOpeningBalance(amount decimal.Decimal) Option {
	return func(m *Memory) { m.opening = &amount }
}

// NewMemory creates an empty ledger.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		accounts:     make(map[uuid.UUID]*account),
		reservations: make(map[uuid.UUID]*Reservation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deposit credits amount to the user's account, opening it if needed.
func (m *Memory) Deposit(_ context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		acc = &account{}
		m.accounts[userID] = acc
	}
	acc.balance = acc.balance.Add(amount)
	return nil
}

// Balance returns the user's current balance.
func (m *Memory) Balance(_ context.Context, userID uuid.UUID) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return Balance{}, domain.ErrAccountNotFound
	}
	return Balance{
		Total:     acc.balance,
		Locked:    acc.locked,
		Available: acc.balance.Sub(acc.locked),
	}, nil
}

// Reservation returns a copy of the hold with the given id.
func (m *Memory) Reservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return Reservation{}, domain.ErrReservationNotFound
	}
	return *r, nil
}

// Reserve locks amount of the user's available balance.
func (m *Memory) Reserve(_ context.Context, userID uuid.UUID, amount decimal.Decimal) (uuid.UUID, error) {
	if !amount.IsPositive() {
		return uuid.Nil, domain.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[userID]
	if !ok {
		if m.opening == nil {
			return uuid.Nil, domain.ErrAccountNotFound
		}
		acc = &account{balance: *m.opening}
		m.accounts[userID] = acc
	}

	available := acc.balance.Sub(acc.locked)
	if available.LessThan(amount) {
		return uuid.Nil, fmt.Errorf("%w: available %s, required %s",
			domain.ErrInsufficientFunds, available.StringFixed(2), amount.StringFixed(2))
	}

	acc.locked = acc.locked.Add(amount)
	r := &Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Status:    ReservationHeld,
		CreatedAt: time.Now().UTC(),
	}
	m.reservations[r.ID] = r
	return r.ID, nil
}

// Capture debits amount from the held funds and unlocks the rest of the hold.
// Capturing an already captured reservation is a no-op.
func (m *Memory) Capture(_ context.Context, id uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, acc, err := m.held(id, ReservationCaptured)
	if err != nil || r == nil {
		return err
	}
	if amount.IsNegative() || amount.GreaterThan(r.Amount) {
		return fmt.Errorf("%w: capture %s exceeds hold %s", domain.ErrInvalidAmount, amount, r.Amount)
	}

	acc.locked = acc.locked.Sub(r.Amount)
	acc.balance = acc.balance.Sub(amount)
	m.settle(r, ReservationCaptured, amount)
	return nil
}

// Release unlocks the whole hold. Releasing twice is a no-op.
func (m *Memory) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, acc, err := m.held(id, ReservationReleased)
	if err != nil || r == nil {
		return err
	}
	acc.locked = acc.locked.Sub(r.Amount)
	m.settle(r, ReservationReleased, decimal.Zero)
	return nil
}

// held returns a reservation that is still held. A reservation already in
// the target state yields (nil, nil, nil); one in the other settled state is
// an error. Callers hold m.mu.
func (m *Memory) held(id uuid.UUID, target ReservationStatus) (*Reservation, *account, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil, domain.ErrReservationNotFound
	}
	switch r.Status {
	case ReservationHeld:
		return r, m.accounts[r.UserID], nil
	case target:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: reservation %s is %s", domain.ErrReservationSettled, id, r.Status)
	}
}

func (m *Memory) settle(r *Reservation, status ReservationStatus, captured decimal.Decimal) {
	now := time.Now().UTC()
	r.Status = status
	r.Captured = captured
	r.SettledAt = &now
}
