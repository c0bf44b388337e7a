package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Error kinds: every sentinel below unwraps to exactly one of these
// ──────────────────────────────────────────────────────────────────────────────

var (
	// ErrValidation covers bad amounts, self-outbids and malformed schedules.
	// No state is mutated when it is returned.
	ErrValidation = errors.New("validation failed")

	// ErrState is returned when the auction's status forbids the operation.
	ErrState = errors.New("invalid auction state")

	// ErrNotFound is returned when the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrency is returned when the per-auction exclusion could not be
	// acquired in time. Callers retry the whole operation from a fresh read.
	ErrConcurrency = errors.New("concurrent modification")

	// ErrLedger is returned when a fund reservation, capture or release fails.
	ErrLedger = errors.New("ledger failure")
)

// kindError is a sentinel with a fixed message that unwraps to its kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation errors
var (
	// ErrBidTooLow is returned when amount < MinimumNextBid. The wrapping error
	// message carries the current minimum.
	ErrBidTooLow = newKindError(ErrValidation, "bid amount is below the minimum next bid")

	// ErrSelfOutbid is returned when the current highest bidder bids again.
	ErrSelfOutbid = newKindError(ErrValidation, "bidder is already the highest bidder")

	// ErrInvalidAmount is returned for zero or negative money values.
	ErrInvalidAmount = newKindError(ErrValidation, "amount must be positive")

	// ErrInvalidSchedule is returned when endsAt <= startsAt.
	ErrInvalidSchedule = newKindError(ErrValidation, "auction must end after it starts")

	// ErrInvalidSnipeWindow is returned for a negative or oversized snipe window.
	ErrInvalidSnipeWindow = newKindError(ErrValidation, "invalid snipe protection window")

	// ErrInvalidReserve is returned when the reserve price is below the starting bid.
	ErrInvalidReserve = newKindError(ErrValidation, "reserve price must not be below the starting bid")

	// ErrMissingField is returned when a required identifier or text field is empty.
	ErrMissingField = newKindError(ErrValidation, "required field is missing")
)

// State errors
var (
	// ErrAuctionNotActive is returned when a bid targets an auction that is not
	// in StatusActive.
	ErrAuctionNotActive = newKindError(ErrState, "auction is not accepting bids")

	// ErrAuctionClosed is returned when cancelling an auction in a terminal state.
	ErrAuctionClosed = newKindError(ErrState, "auction is already closed")

	// ErrIllegalTransition is returned by the store when a commit would move the
	// status along an edge missing from the transition table.
	ErrIllegalTransition = newKindError(ErrState, "illegal auction status transition")

	// ErrInvariantViolated is returned by the store when a commit would decrease
	// currentBid or endsAt, or revert reserveMet.
	ErrInvariantViolated = newKindError(ErrState, "auction invariant violated")
)

// Not-found errors
var (
	// ErrAuctionNotFound is returned when no auction matches the given id.
	ErrAuctionNotFound = newKindError(ErrNotFound, "auction not found")

	// ErrReservationNotFound is returned by a Ledger for unknown reservation ids.
	ErrReservationNotFound = newKindError(ErrNotFound, "reservation not found")

	// ErrAccountNotFound is returned by a Ledger when the user has no account.
	ErrAccountNotFound = newKindError(ErrNotFound, "ledger account not found")
)

// Concurrency errors
var (
	// ErrLockTimeout is returned when the per-auction exclusion is not acquired
	// before the configured timeout or the caller's context deadline.
	ErrLockTimeout = newKindError(ErrConcurrency, "timed out waiting for auction lock")
)

// Ledger errors
var (
	// ErrInsufficientFunds is returned when the user's available balance cannot
	// cover the reservation.
	ErrInsufficientFunds = newKindError(ErrLedger, "insufficient funds")

	// ErrReservationSettled is returned when capturing or releasing a reservation
	// that has already been captured or released.
	ErrReservationSettled = newKindError(ErrLedger, "reservation already settled")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsState reports whether err is a StateError.
func IsState(err error) bool { return errors.Is(err, ErrState) }

// IsNotFound returns true when err (or any error in its chain) is a domain
// "not found" error. Use this to translate to HTTP 404 responses.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConcurrency reports whether err is a ConcurrencyError; the caller should
// retry from a fresh read.
func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrency) }

// IsLedger reports whether err came from the Ledger boundary.
func IsLedger(err error) bool { return errors.Is(err, ErrLedger) }
