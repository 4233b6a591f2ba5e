package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
)

// Status is the lifecycle state of a contract's escrow.
type Status string

const (
	StatusFunded   Status = "funded"
	StatusDisputed Status = "disputed"
	StatusReleased Status = "released_to_freelancer"
	StatusRefunded Status = "refunded_to_client"
)

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Valid reports whether s belongs to the enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusFunded, StatusDisputed, StatusReleased, StatusRefunded:
		return true
	}
	return false
}

// Binding tracks the client money earmarked for one contract.
type Binding struct {
	ContractID    string
	ClientID      string
	FreelancerID  string
	Amount        decimal.Decimal
	Balance       decimal.Decimal
	Status        Status
	DisputeReason string
	DisputedBy    string
	DisputedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsParty reports whether userID is the client or the freelancer of the contract.
func (b Binding) IsParty(userID string) bool {
	return userID != "" && (userID == b.ClientID || userID == b.FreelancerID)
}

// Transition moves a binding from one of From to To.
type Transition struct {
	From []Status
	To   Status
	// Balance is the escrow balance after the transition.
	Balance decimal.Decimal
	// Reason and By are recorded when To is StatusDisputed.
	Reason string
	By     string
	At     time.Time
}

// Allows reports whether the transition may start from s.
func (t Transition) Allows(s Status) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Validate rejects transitions to unknown states and transitions out of a terminal state.
func (t Transition) Validate() error {
	if !t.To.Valid() {
		return apperrors.Validation("unknown escrow status %q", t.To)
	}
	if len(t.From) == 0 {
		return apperrors.Validation("transition to %s has no source status", t.To)
	}
	for _, from := range t.From {
		if !from.Valid() || from.Terminal() {
			return apperrors.Validation("escrow cannot leave status %q", from)
		}
	}
	return nil
}

// Refusal is the error for a binding whose current status s the transition does not allow.
func (t Transition) Refusal(contractID string, s Status) error {
	if s.Terminal() {
		return apperrors.InvalidState("escrow for contract %s is already %s", contractID, s)
	}
	return apperrors.InvalidState("escrow for contract %s is %s", contractID, s)
}

// Apply returns b after the transition, or apperrors.ErrInvalidState when b's status is not one
// of t.From.
func (t Transition) Apply(b Binding) (Binding, error) {
	if err := t.Validate(); err != nil {
		return b, err
	}
	if !t.Allows(b.Status) {
		return b, t.Refusal(b.ContractID, b.Status)
	}
	next := b
	next.Status = t.To
	next.Balance = t.Balance
	next.UpdatedAt = t.At
	if t.To == StatusDisputed {
		at := t.At
		next.DisputeReason = t.Reason
		next.DisputedBy = t.By
		next.DisputedAt = &at
	}
	return next, nil
}

// Action names an entry of the escrow history.
type Action string

const (
	ActionFunded               Action = "funded"
	ActionDisputed             Action = "disputed"
	ActionReleased             Action = "released"
	ActionRefunded             Action = "refunded"
	ActionResolvedToFreelancer Action = "resolved_to_freelancer"
	ActionResolvedToClient     Action = "resolved_to_client"
)

// Event is an append-only annotation of the escrow history. Dispute resolutions record the
// admin and their note here, not in the ledger.
type Event struct {
	ID         string
	Seq        int64
	ContractID string
	Action     Action
	ActorID    string
	Note       string
	CreatedAt  time.Time
}
