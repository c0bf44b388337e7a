package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// IncrementStep maps a current-bid lower bound to the minimum increment that
// applies from that bound upwards.
type IncrementStep struct {
	From      decimal.Decimal
	Increment decimal.Decimal
}

// IncrementPolicy is a step table of minimum increments. It is a pure value:
// every method is total and free of side effects.
type IncrementPolicy struct {
	steps []IncrementStep
}

// DefaultIncrementSteps is the canonical increment table.
//
//	[0→5, 100→10, 500→25, 1000→50, 5000→100, 10000→250]
func DefaultIncrementSteps() []IncrementStep {
	return []IncrementStep{
		{From: decimal.NewFromInt(0), Increment: decimal.NewFromInt(5)},
		{From: decimal.NewFromInt(100), Increment: decimal.NewFromInt(10)},
		{From: decimal.NewFromInt(500), Increment: decimal.NewFromInt(25)},
		{From: decimal.NewFromInt(1000), Increment: decimal.NewFromInt(50)},
		{From: decimal.NewFromInt(5000), Increment: decimal.NewFromInt(100)},
		{From: decimal.NewFromInt(10000), Increment: decimal.NewFromInt(250)},
	}
}

// DefaultIncrementPolicy returns the policy built from DefaultIncrementSteps.
func DefaultIncrementPolicy() IncrementPolicy {
	p, _ := NewIncrementPolicy(DefaultIncrementSteps())
	return p
}

// NewIncrementPolicy sorts and validates steps. The table must start at zero
// and every increment must be positive so MinimumIncrement is total.
func NewIncrementPolicy(steps []IncrementStep) (IncrementPolicy, error) {
	if len(steps) == 0 {
		return IncrementPolicy{}, ErrInvalidAmount
	}
	sorted := make([]IncrementStep, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From.LessThan(sorted[j].From) })

	if !sorted[0].From.IsZero() {
		return IncrementPolicy{}, ErrInvalidAmount
	}
	for _, s := range sorted {
		if !s.Increment.IsPositive() {
			return IncrementPolicy{}, ErrInvalidAmount
		}
	}
	return IncrementPolicy{steps: sorted}, nil
}

// MinimumIncrement returns the increment of the highest threshold <= currentBid.
func (p IncrementPolicy) MinimumIncrement(currentBid decimal.Decimal) decimal.Decimal {
	steps := p.steps
	if len(steps) == 0 {
		steps = DefaultIncrementSteps()
	}
	inc := steps[0].Increment
	for _, s := range steps {
		if s.From.GreaterThan(currentBid) {
			break
		}
		inc = s.Increment
	}
	return inc
}

// MinimumNextBid returns StartingBid before the first bid and
// CurrentBid + MinimumIncrement(CurrentBid) afterwards.
func (p IncrementPolicy) MinimumNextBid(a *Auction) decimal.Decimal {
	if a.BidCount == 0 {
		return a.StartingBid
	}
	return a.CurrentBid.Add(p.MinimumIncrement(a.CurrentBid))
}
