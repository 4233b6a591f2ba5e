package payments

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/middleware"
	"github.com/workbridge/escrow/internal/render"
	"github.com/workbridge/escrow/internal/wallet"
)

// Handler exposes withdrawal and escrow endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Withdraw debits the caller's available balance.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.Bind[WithdrawRequest](c)
	if err != nil {
		return err
	}

	acc, err := h.service.Withdraw(c.UserContext(), p.UserID, req.Amount, req.Destination)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(wallet.ToAccountResponse(acc))
}

// FundEscrow earmarks the caller's money for the contract in the route.
func (h *Handler) FundEscrow(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.Bind[FundEscrowRequest](c)
	if err != nil {
		return err
	}

	b, err := h.service.FundEscrow(c.UserContext(), c.Params("contractId"), p.UserID, req.FreelancerID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ToBindingResponse(b))
}

// GetEscrow returns the binding and history to the contract's parties and to admins.
func (h *Handler) GetEscrow(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}

	b, events, err := h.service.Escrow(c.UserContext(), c.Params("contractId"))
	if err != nil {
		return err
	}
	if !p.IsAdmin() && !b.IsParty(p.UserID) {
		return fmt.Errorf("%w: not a party to contract %s", apperrors.ErrForbidden, b.ContractID)
	}
	return c.Status(http.StatusOK).JSON(EscrowResponse{BindingResponse: ToBindingResponse(b), History: ToEventResponses(events)})
}

// Release is the client's approval of the delivered work.
func (h *Handler) Release(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.BindOptional[NoteRequest](c)
	if err != nil {
		return err
	}

	b, err := h.service.ReleaseToFreelancer(c.UserContext(), c.Params("contractId"), p.UserID, req.Note)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToBindingResponse(b))
}

// Refund is the freelancer returning the escrow to the client.
func (h *Handler) Refund(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.BindOptional[NoteRequest](c)
	if err != nil {
		return err
	}

	b, err := h.service.RefundToClient(c.UserContext(), c.Params("contractId"), p.UserID, req.Note)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(ToBindingResponse(b))
}

// Reconcile reports drift between a wallet's aggregates and its ledger.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	rec, err := h.service.Reconcile(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(rec)
}
