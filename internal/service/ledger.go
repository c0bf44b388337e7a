package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services
// ──────────────────────────────────────────────────────────────────────────────

// Ledger holds, settles and returns bidder funds.
// Implemented by ledger.Memory and repository.WalletLedger.
type Ledger interface {
	// Reserve places a hold of amount on the user's available balance.
	Reserve(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (uuid.UUID, error)
	// Capture makes amount of the hold final and returns the rest.
	Capture(ctx context.Context, reservationID uuid.UUID, amount decimal.Decimal) error
	// Release returns the whole hold to the user.
	Release(ctx context.Context, reservationID uuid.UUID) error
}

// ledgerError makes sure every failure surfaced from the ledger boundary
// carries the ledger kind, keeping the more specific cause in the chain.
func ledgerError(op string, err error) error {
	if errors.Is(err, domain.ErrLedger) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrLedger, err)
}
