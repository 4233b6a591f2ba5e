package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/escrow"
)

// WithdrawRequest debits the caller's wallet toward a payout destination.
type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"required,max=256"`
}

// FundEscrowRequest is posted by the client of the contract.
type FundEscrowRequest struct {
	FreelancerID string          `json:"freelancerId" validate:"required,max=128"`
	Amount       decimal.Decimal `json:"amount"`
}

// NoteRequest carries the optional note of a release or refund.
type NoteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// BindingResponse renders an escrow binding.
type BindingResponse struct {
	ContractID    string          `json:"contractId"`
	ClientID      string          `json:"clientId"`
	FreelancerID  string          `json:"freelancerId"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"escrowBalance"`
	Status        escrow.Status   `json:"status"`
	DisputeReason string          `json:"disputeReason,omitempty"`
	DisputedBy    string          `json:"disputedBy,omitempty"`
	DisputedAt    *time.Time      `json:"disputedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// EventResponse renders one history annotation.
type EventResponse struct {
	Action    escrow.Action `json:"action"`
	ActorID   string        `json:"actorId"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EscrowResponse is a binding with its history.
type EscrowResponse struct {
	BindingResponse
	History []EventResponse `json:"history"`
}

// ToBindingResponse renders b.
func ToBindingResponse(b escrow.Binding) BindingResponse {
	return BindingResponse{
		ContractID:    b.ContractID,
		ClientID:      b.ClientID,
		FreelancerID:  b.FreelancerID,
		Amount:        b.Amount,
		Balance:       b.Balance,
		Status:        b.Status,
		DisputeReason: b.DisputeReason,
		DisputedBy:    b.DisputedBy,
		DisputedAt:    b.DisputedAt,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// ToEventResponses renders a history.
func ToEventResponses(events []escrow.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{Action: e.Action, ActorID: e.ActorID, Note: e.Note, CreatedAt: e.CreatedAt})
	}
	return out
}
