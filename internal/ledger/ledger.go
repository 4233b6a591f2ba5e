package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
)

// Type is the closed set of ledger entry kinds.
type Type string

const (
	TypeDeposit        Type = "deposit"
	TypeWithdraw       Type = "withdraw"
	TypeEscrowFunded   Type = "escrow_funded"
	TypeEscrowReleased Type = "escrow_released"
	TypeRefund         Type = "refund"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Valid reports whether t belongs to the enumeration.
func (t Type) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdraw, TypeEscrowFunded, TypeEscrowReleased, TypeRefund:
		return true
	}
	return false
}

// Credit reports whether entries of this type increase the wallet's holdings.
func (t Type) Credit() bool {
	switch t {
	case TypeDeposit, TypeEscrowReleased, TypeRefund:
		return true
	}
	return false
}

// RequiresContract reports whether entries of this type must reference a contract.
func (t Type) RequiresContract() bool {
	switch t {
	case TypeEscrowFunded, TypeEscrowReleased, TypeRefund:
		return true
	}
	return false
}

// Entry is an immutable signed movement against one wallet.
type Entry struct {
	ID         string
	Seq        int64
	OwnerID    string
	Type       Type
	Amount     decimal.Decimal
	ContractID string
	Reference  string
	Note       string
	CreatedAt  time.Time
}

// Validate checks the sign convention and the contract reference rule.
func (e Entry) Validate() error {
	if e.OwnerID == "" {
		return apperrors.Validation("ledger entry owner is required")
	}
	if !e.Type.Valid() {
		return apperrors.Validation("unknown ledger entry type %q", e.Type)
	}
	if e.Amount.IsZero() {
		return apperrors.Validation("ledger entry amount must not be zero")
	}
	if e.Type.Credit() != e.Amount.IsPositive() {
		return apperrors.Validation("ledger entry %s has wrong sign: %s", e.Type, e.Amount)
	}
	if e.Type.RequiresContract() && e.ContractID == "" {
		return apperrors.Validation("ledger entry %s requires a contract", e.Type)
	}
	return nil
}

// Page addresses a slice of an owner's ledger in append order. AfterSeq is exclusive, so the
// Seq of the last entry of one page restarts the listing at the next.
type Page struct {
	AfterSeq int64
	Limit    int
}

// Normalize applies the default and maximum limit.
func (p Page) Normalize() Page {
	if p.AfterSeq < 0 {
		p.AfterSeq = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// Sums holds per-type totals of an owner's entries.
type Sums map[Type]decimal.Decimal

// Of returns the total for t, zero when absent.
func (s Sums) Of(t Type) decimal.Decimal {
	if v, ok := s[t]; ok {
		return v
	}
	return decimal.Zero
}

// Total returns the sum over every type, which is the owner's liquid balance.
func (s Sums) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s {
		total = total.Add(v)
	}
	return total
}

// Repository is the append-only ledger store.
type Repository interface {
	// Append persists e and returns it with ID, Seq and CreatedAt assigned.
	// A second deposit with the same reference fails with apperrors.ErrConfirmationReplay.
	Append(ctx context.Context, e Entry) (Entry, error)
	ListByOwner(ctx context.Context, ownerID string, page Page) ([]Entry, error)
	SumByOwnerAndType(ctx context.Context, ownerID string) (Sums, error)
}
