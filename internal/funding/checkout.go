package funding

import (
	"context"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// Checkout represents the external payment page provider.
type Checkout interface {
	CreateSession(ctx context.Context, req SessionRequest) (string, error)
}

// SessionRequest carries what the provider needs to render a payment page.
type SessionRequest struct {
	Reference string
	OwnerID   string
	Amount    decimal.Decimal
}

// StaticCheckout builds redirect URLs against a fixed base without calling out. The provider
// later posts the outcome to the webhook.
type StaticCheckout struct {
	BaseURL string
}

// CreateSession returns BaseURL with the reference and amount as query parameters.
func (s StaticCheckout) CreateSession(_ context.Context, req SessionRequest) (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse checkout base url: %w", err)
	}
	q := u.Query()
	q.Set("reference", req.Reference)
	q.Set("amount", req.Amount.StringFixed(2))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
