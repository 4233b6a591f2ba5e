package wallet

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/ledger"
)

// OverviewReader returns an owner's aggregates with one page of their ledger.
type OverviewReader interface {
	Wallet(ctx context.Context, userID string, page ledger.Page) (Overview, error)
}

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	reader OverviewReader
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(reader OverviewReader) *Handler {
	return &Handler{reader: reader}
}

// AccountResponse carries the cached aggregates.
type AccountResponse struct {
	OwnerID   string          `json:"userId"`
	Available decimal.Decimal `json:"availableBalance"`
	Pending   decimal.Decimal `json:"pendingBalance"`
	Earned    decimal.Decimal `json:"totalEarning"`
	Withdrawn decimal.Decimal `json:"totalWithdraw"`
}

// ToAccountResponse renders acc.
func ToAccountResponse(acc Account) AccountResponse {
	return AccountResponse{
		OwnerID:   acc.OwnerID,
		Available: acc.Available,
		Pending:   acc.Pending,
		Earned:    acc.TotalEarned,
		Withdrawn: acc.TotalWithdrawn,
	}
}

type entryResponse struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Type       ledger.Type     `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	ContractID string          `json:"contractId,omitempty"`
	Note       string          `json:"note"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type overviewResponse struct {
	AccountResponse
	Ledger    []entryResponse `json:"ledger"`
	NextAfter int64           `json:"nextAfter,omitempty"`
}

// Overview returns the wallet of the user named in the route.
func (h *Handler) Overview(c *fiber.Ctx) error {
	page := ledger.Page{
		AfterSeq: int64(c.QueryInt("after", 0)),
		Limit:    c.QueryInt("limit", 0),
	}
	if page.AfterSeq < 0 || page.Limit < 0 {
		return apperrors.Validation("after and limit must not be negative")
	}

	overview, err := h.reader.Wallet(c.UserContext(), c.Params("userId"), page)
	if err != nil {
		return err
	}

	resp := overviewResponse{
		AccountResponse: ToAccountResponse(overview.Account),
		Ledger:          make([]entryResponse, 0, len(overview.Entries)),
		NextAfter:       overview.NextAfter,
	}
	for _, e := range overview.Entries {
		resp.Ledger = append(resp.Ledger, entryResponse{
			ID:         e.ID,
			Seq:        e.Seq,
			Type:       e.Type,
			Amount:     e.Amount,
			ContractID: e.ContractID,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(resp)
}
