package funding

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a deposit intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Intent is a deposit awaiting confirmation from the checkout provider. It never touches the
// ledger until confirmed.
type Intent struct {
	Reference   string
	OwnerID     string
	Amount      decimal.Decimal
	Status      Status
	CheckoutURL string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Outcome is the payment result reported by the checkout provider.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Confirmation is a verified webhook notification.
type Confirmation struct {
	Reference string
	Amount    decimal.Decimal
	Outcome   Outcome
}

// ConfirmResult reports what a confirmation did. Replayed is set when the reference had already
// been applied and nothing changed.
type ConfirmResult struct {
	Intent   Intent
	Replayed bool
}

// Session is what the payer needs to complete a deposit.
type Session struct {
	Reference string
	URL       string
}
