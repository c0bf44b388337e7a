package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies the kind of history entry.
type EventType string

const (
	EventStarted    EventType = "started"
	EventBid        EventType = "bid"
	EventOutbid     EventType = "outbid"
	EventReserveMet EventType = "reserve_met"
	EventExtended   EventType = "extended"
	EventEnded      EventType = "ended"
	EventSold       EventType = "sold"
	EventCancelled  EventType = "cancelled"
)

// HistoryEntry is one append-only record of a committed state transition.
// Seq, PrevHash and Hash are assigned by the store at commit time and chain
// every entry of an auction to its predecessor.
type HistoryEntry struct {
	ID          uuid.UUID        `json:"id"`
	AuctionID   uuid.UUID        `json:"auction_id"`
	Seq         uint64           `json:"seq"`
	EventType   EventType        `json:"event_type"`
	ActorID     *uuid.UUID       `json:"actor_id"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	PrevHash    string           `json:"prev_hash"`
	Hash        string           `json:"hash"`
}

// NewHistoryEntry builds an unsealed entry. actor and amount may be nil.
func NewHistoryEntry(auctionID uuid.UUID, typ EventType, actor *uuid.UUID, amount *decimal.Decimal, at time.Time, format string, args ...any) *HistoryEntry {
	e := &HistoryEntry{
		ID:          uuid.New(),
		AuctionID:   auctionID,
		EventType:   typ,
		Description: fmt.Sprintf(format, args...),
		CreatedAt:   at,
	}
	if actor != nil {
		id := *actor
		e.ActorID = &id
	}
	if amount != nil {
		amt := *amount
		e.Amount = &amt
	}
	return e
}

// Clone returns a deep copy.
func (e *HistoryEntry) Clone() *HistoryEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.ActorID != nil {
		id := *e.ActorID
		c.ActorID = &id
	}
	if e.Amount != nil {
		amt := *e.Amount
		c.Amount = &amt
	}
	return &c
}

// Seal assigns the chain position and computes the entry hash.
func (e *HistoryEntry) Seal(seq uint64, prevHash string) {
	e.Seq = seq
	e.PrevHash = prevHash
	e.Hash = ComputeEntryHash(e)
}

// ComputeEntryHash hashes an entry together with its predecessor's hash.
//
// Formula: SHA256(prev|seq|auction|type|actor|amount|description|createdAt)
//
// Amounts are rendered with StringFixed(4) and timestamps as RFC3339Nano UTC so
// the hash does not depend on in-memory representation.
func ComputeEntryHash(e *HistoryEntry) string {
	actor := ""
	if e.ActorID != nil {
		actor = e.ActorID.String()
	}
	amount := ""
	if e.Amount != nil {
		amount = e.Amount.StringFixed(4)
	}
	data := fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s",
		e.PrevHash, e.Seq, e.AuctionID, e.EventType, actor, amount,
		e.Description, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// VerifyHistory checks that entries form an unbroken chain in commit order.
// It returns the index of the first bad entry and an error, or -1 and nil.
func VerifyHistory(entries []*HistoryEntry) (int, error) {
	prev := ""
	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			return i, fmt.Errorf("history entry %s: seq %d, want %d", e.ID, e.Seq, i+1)
		}
		if e.PrevHash != prev {
			return i, fmt.Errorf("history entry %s: broken chain link", e.ID)
		}
		if ComputeEntryHash(e) != e.Hash {
			return i, fmt.Errorf("history entry %s: hash mismatch", e.ID)
		}
		prev = e.Hash
	}
	return -1, nil
}
