package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/middleware"
)

// RegisterDashboardRoutes wires the admin dispute desk and wallet reconciliation.
func RegisterDashboardRoutes(r fiber.Router, h handlers) {
	dashboard := r.Group("/dashboard", middleware.RequireAdmin())
	dashboard.Get("/disputes", h.dispute.List)
	dashboard.Get("/disputes/:contractId", h.dispute.Get)
	dashboard.Post("/disputes/:contractId/resolve-to-freelancer", h.dispute.ResolveToFreelancer)
	dashboard.Post("/disputes/:contractId/resolve-to-client", h.dispute.ResolveToClient)
	dashboard.Get("/wallets/:userId/reconcile", h.payments.Reconcile)
}
