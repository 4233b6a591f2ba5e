package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/ledger"
)

// Account is the cached per-owner aggregate over the ledger.
type Account struct {
	OwnerID        string
	Available      decimal.Decimal
	Pending        decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalWithdrawn decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAccount returns a zeroed account for owner.
func NewAccount(ownerID string, now time.Time) Account {
	return Account{
		OwnerID:        ownerID,
		Available:      decimal.Zero,
		Pending:        decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Delta is a change applied to an account together with the ledger append that causes it.
type Delta struct {
	Available decimal.Decimal
	Pending   decimal.Decimal
	Earned    decimal.Decimal
	Withdrawn decimal.Decimal
}

// Validate rejects deltas that would decrease a lifetime counter.
func (d Delta) Validate() error {
	if d.Earned.IsNegative() {
		return apperrors.Validation("earned delta must not be negative")
	}
	if d.Withdrawn.IsNegative() {
		return apperrors.Validation("withdrawn delta must not be negative")
	}
	return nil
}

// Apply returns the account with d applied. A result with a negative available or pending
// balance fails with apperrors.ErrInsufficientFunds and leaves a untouched.
func (a Account) Apply(d Delta, now time.Time) (Account, error) {
	if err := d.Validate(); err != nil {
		return a, err
	}
	next := a
	next.Available = a.Available.Add(d.Available)
	next.Pending = a.Pending.Add(d.Pending)
	next.TotalEarned = a.TotalEarned.Add(d.Earned)
	next.TotalWithdrawn = a.TotalWithdrawn.Add(d.Withdrawn)
	if next.Available.IsNegative() {
		return a, fmt.Errorf("%w: available %s, requested %s", apperrors.ErrInsufficientFunds, a.Available, d.Available.Neg())
	}
	if next.Pending.IsNegative() {
		return a, fmt.Errorf("%w: pending %s, requested %s", apperrors.ErrInsufficientFunds, a.Pending, d.Pending.Neg())
	}
	next.UpdatedAt = now
	return next, nil
}

// Overview is an account together with one page of its ledger.
type Overview struct {
	Account   Account
	Entries   []ledger.Entry
	NextAfter int64
}
