// Package repository holds the PostgreSQL adapters of the auction engine.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/ledger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// WalletLedger implements the engine's funds boundary on the wallets and
// reservations tables. Every mutation runs in its own transaction and locks
// the rows it touches with FOR UPDATE.
type WalletLedger struct {
	db      *sqlx.DB
	opening *decimal.Decimal
}

// NewWalletLedger creates a WalletLedger. When opening is non-nil, unknown
// users get a wallet with that balance on their first reservation.
func NewWalletLedger(db *sqlx.DB, opening *decimal.Decimal) *WalletLedger {
	return &WalletLedger{db: db, opening: opening}
}

type reservationRow struct {
	ID        uuid.UUID       `db:"id"`
	UserID    uuid.UUID       `db:"user_id"`
	Amount    decimal.Decimal `db:"amount"`
	Captured  decimal.Decimal `db:"captured"`
	Status    string          `db:"status"`
	CreatedAt sql.NullTime    `db:"created_at"`
	SettledAt sql.NullTime    `db:"settled_at"`
}

func (r reservationRow) toLedger() ledger.Reservation {
	out := ledger.Reservation{
		ID:        r.ID,
		UserID:    r.UserID,
		Amount:    r.Amount,
		Captured:  r.Captured,
		Status:    ledger.ReservationStatus(r.Status),
		CreatedAt: r.CreatedAt.Time,
	}
	if r.SettledAt.Valid {
		t := r.SettledAt.Time
		out.SettledAt = &t
	}
	return out
}

// Deposit credits amount to the user's wallet, creating it if needed.
func (r *WalletLedger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("wallet_ledger.Deposit: %w", err)
	}
	return nil
}

// Balance returns the user's current balance.
func (r *WalletLedger) Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	var row struct {
		Balance decimal.Decimal `db:"balance"`
		Locked  decimal.Decimal `db:"locked"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT balance, locked FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Balance{}, domain.ErrAccountNotFound
		}
		return ledger.Balance{}, fmt.Errorf("wallet_ledger.Balance: %w", err)
	}
	return ledger.Balance{
		Total:     row.Balance,
		Locked:    row.Locked,
		Available: row.Balance.Sub(row.Locked),
	}, nil
}

// Reservation returns the hold with the given id.
func (r *WalletLedger) Reservation(ctx context.Context, id uuid.UUID) (ledger.Reservation, error) {
	var row reservationRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Reservation{}, domain.ErrReservationNotFound
		}
		return ledger.Reservation{}, fmt.Errorf("wallet_ledger.Reservation: %w", err)
	}
	return row.toLedger(), nil
}

// Reserve locks amount of the user's available balance.
func (r *WalletLedger) Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (uuid.UUID, error) {
	if !amount.IsPositive() {
		return uuid.Nil, domain.ErrInvalidAmount
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if r.opening != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			userID, *r.opening)
		if err != nil {
			return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve open: %w", err)
		}
	}

	// ── 1. Lock the wallet and check what is free ─────────────────────────────
	var available decimal.Decimal
	err = tx.GetContext(ctx, &available,
		`SELECT (balance - locked) FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, domain.ErrAccountNotFound
		}
		return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve lock: %w", err)
	}
	if available.LessThan(amount) {
		return uuid.Nil, fmt.Errorf("%w: available %s, required %s",
			domain.ErrInsufficientFunds, available.StringFixed(2), amount.StringFixed(2))
	}

	// ── 2. Lock the funds and record the hold ─────────────────────────────────
	if _, err = tx.ExecContext(ctx,
		`UPDATE wallets SET locked = locked + $1, updated_at = now() WHERE user_id = $2`,
		amount, userID); err != nil {
		return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve update: %w", err)
	}

	id := uuid.New()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (id, user_id, amount, status) VALUES ($1, $2, $3, 'held')`,
		id, userID, amount); err != nil {
		return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve insert: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("wallet_ledger.Reserve commit: %w", err)
	}
	return id, nil
}

// Capture debits amount from the held funds and unlocks the rest of the hold.
// Capturing an already captured reservation is a no-op.
func (r *WalletLedger) Capture(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return r.settle(ctx, "Capture", id, ledger.ReservationCaptured, amount)
}

// Release unlocks the whole hold. Releasing twice is a no-op.
func (r *WalletLedger) Release(ctx context.Context, id uuid.UUID) error {
	return r.settle(ctx, "Release", id, ledger.ReservationReleased, decimal.Zero)
}

func (r *WalletLedger) settle(ctx context.Context, op string, id uuid.UUID, target ledger.ReservationStatus, captured decimal.Decimal) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("wallet_ledger.%s begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := lockReservation(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("wallet_ledger.%s: %w", op, err)
	}
	switch ledger.ReservationStatus(row.Status) {
	case ledger.ReservationHeld:
	case target:
		return nil
	default:
		return fmt.Errorf("wallet_ledger.%s: %w: reservation %s is %s", op, domain.ErrReservationSettled, id, row.Status)
	}
	if captured.IsNegative() || captured.GreaterThan(row.Amount) {
		return fmt.Errorf("wallet_ledger.%s: %w: capture %s exceeds hold %s", op, domain.ErrInvalidAmount, captured, row.Amount)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance - $1, locked = GREATEST(locked - $2, 0), updated_at = now()
		WHERE user_id = $3`,
		captured, row.Amount, row.UserID); err != nil {
		return fmt.Errorf("wallet_ledger.%s wallet: %w", op, err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = $1, captured = $2, settled_at = now() WHERE id = $3`,
		string(target), captured, id); err != nil {
		return fmt.Errorf("wallet_ledger.%s reservation: %w", op, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("wallet_ledger.%s commit: %w", op, err)
	}
	return nil
}

func lockReservation(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (reservationRow, error) {
	var row reservationRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM reservations WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return row, domain.ErrReservationNotFound
		}
		return row, fmt.Errorf("lock reservation: %w", err)
	}
	return row, nil
}
