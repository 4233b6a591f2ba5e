package dispute

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/middleware"
	"github.com/workbridge/escrow/internal/render"
)

// Handler exposes dispute endpoints to the parties and the admin dashboard.
type Handler struct {
	service *Service
}

// NewHandler constructs a dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type openRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

type resolveRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

type caseResponse struct {
	ContractID     string          `json:"contractId"`
	ClientID       string          `json:"clientId"`
	FreelancerID   string          `json:"freelancerId"`
	Amount         decimal.Decimal `json:"amount"`
	Status         escrow.Status   `json:"status"`
	Reason         string          `json:"reason"`
	OpenedBy       string          `json:"openedBy"`
	OpenedAt       time.Time       `json:"openedAt"`
	Outcome        Outcome         `json:"outcome,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty"`
	ResolutionNote string          `json:"resolutionNote,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
}

func toCaseResponse(c Case) caseResponse {
	return caseResponse{
		ContractID:     c.ContractID,
		ClientID:       c.ClientID,
		FreelancerID:   c.FreelancerID,
		Amount:         c.Amount,
		Status:         c.Status,
		Reason:         c.Reason,
		OpenedBy:       c.OpenedBy,
		OpenedAt:       c.OpenedAt,
		Outcome:        c.Outcome,
		ResolvedBy:     c.ResolvedBy,
		ResolutionNote: c.ResolutionNote,
		ResolvedAt:     c.ResolvedAt,
	}
}

// Open lets either party contest the escrow.
func (h *Handler) Open(c *fiber.Ctx) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.Bind[openRequest](c)
	if err != nil {
		return err
	}

	dc, err := h.service.Open(c.UserContext(), c.Params("contractId"), p.UserID, req.Reason)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toCaseResponse(dc))
}

// List returns the open disputes.
func (h *Handler) List(c *fiber.Ctx) error {
	cases, err := h.service.ListOpen(c.UserContext())
	if err != nil {
		return err
	}
	out := make([]caseResponse, 0, len(cases))
	for _, dc := range cases {
		out = append(out, toCaseResponse(dc))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"disputes": out})
}

// Get returns one dispute.
func (h *Handler) Get(c *fiber.Ctx) error {
	dc, err := h.service.Get(c.UserContext(), c.Params("contractId"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toCaseResponse(dc))
}

// ResolveToFreelancer pays the escrow to the freelancer.
func (h *Handler) ResolveToFreelancer(c *fiber.Ctx) error {
	return h.resolve(c, h.service.ResolveToFreelancer)
}

// ResolveToClient refunds the escrow to the client.
func (h *Handler) ResolveToClient(c *fiber.Ctx) error {
	return h.resolve(c, h.service.ResolveToClient)
}

func (h *Handler) resolve(c *fiber.Ctx, fn func(ctx context.Context, contractID, adminID, note string) (Case, error)) error {
	p, err := middleware.MustPrincipal(c)
	if err != nil {
		return err
	}
	req, err := render.BindOptional[resolveRequest](c)
	if err != nil {
		return err
	}

	dc, err := fn(c.UserContext(), c.Params("contractId"), p.UserID, req.Note)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toCaseResponse(dc))
}
