package funding

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/middleware"
	"github.com/workbridge/escrow/internal/render"
)

// Depositor is the deposit half of the wallet service.
type Depositor interface {
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (Session, error)
	CancelDeposit(ctx context.Context, userID, reference string) (Intent, error)
	ConfirmDeposit(ctx context.Context, c Confirmation) (ConfirmResult, error)
}

// Handler exposes HTTP endpoints for deposit flows.
type Handler struct {
	service       Depositor
	webhookSecret string
}

// NewHandler constructs a funding handler.
func NewHandler(service Depositor, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// Deposit opens a checkout session for the caller.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.Bind[DepositRequest](c)
	if err != nil {
		return err
	}

	session, err := h.service.Deposit(c.UserContext(), p.UserID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(DepositResponse{URL: session.URL, Reference: session.Reference})
}

// Cancel abandons a deposit that has not been confirmed.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}

	intent, err := h.service.CancelDeposit(c.UserContext(), p.UserID, c.Params("reference"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toIntentResponse(intent, false))
}

// Webhook applies a signed confirmation from the checkout provider. Replays answer 200.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	if err := Verify(h.webhookSecret, c.Body(), c.Get(SignatureHeader)); err != nil {
		return err
	}
	req, err := render.Bind[WebhookRequest](c)
	if err != nil {
		return err
	}

	res, err := h.service.ConfirmDeposit(c.UserContext(), Confirmation{
		Reference: req.Reference,
		Amount:    req.Amount,
		Outcome:   Outcome(req.Status),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toIntentResponse(res.Intent, res.Replayed))
}
