package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/funding"
)

// RegisterWebhookRoutes wires the checkout provider callback.
func RegisterWebhookRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/payment/webhook", h.Webhook)
}
