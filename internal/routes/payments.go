package routes

import (
	"github.com/gofiber/fiber/v2"
)

// RegisterEscrowRoutes wires per-contract escrow endpoints for the contract's parties.
func RegisterEscrowRoutes(r fiber.Router, h handlers, money fiber.Handler) {
	contract := r.Group("/contracts/:contractId")
	contract.Post("/escrow", money, h.payments.FundEscrow)
	contract.Get("/escrow", h.payments.GetEscrow)
	contract.Post("/escrow/release", money, h.payments.Release)
	contract.Post("/escrow/refund", money, h.payments.Refund)
	contract.Post("/dispute", h.dispute.Open)
}
