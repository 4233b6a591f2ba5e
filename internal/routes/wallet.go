package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/middleware"
)

// RegisterWalletRoutes wires wallet views, deposits and withdrawals.
func RegisterWalletRoutes(r fiber.Router, h handlers, money fiber.Handler) {
	r.Get("/wallet/:userId", middleware.SelfOrAdmin("userId"), h.wallet.Overview)

	payment := r.Group("/payment")
	payment.Post("/deposit", money, h.funding.Deposit)
	payment.Post("/deposit/:reference/cancel", h.funding.Cancel)
	payment.Post("/withdraw", money, h.payments.Withdraw)
}
