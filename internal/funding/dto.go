package funding

import "github.com/shopspring/decimal"

// DepositRequest starts a deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// DepositResponse is the checkout redirect.
type DepositResponse struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

// WebhookRequest is the body posted by the checkout provider.
type WebhookRequest struct {
	Reference string          `json:"reference" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status" validate:"required,oneof=succeeded failed"`
}

// IntentResponse reports an intent's state.
type IntentResponse struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Status    Status          `json:"status"`
	Replayed  bool            `json:"replayed,omitempty"`
}

func toIntentResponse(i Intent, replayed bool) IntentResponse {
	return IntentResponse{Reference: i.Reference, Amount: i.Amount, Status: i.Status, Replayed: replayed}
}
