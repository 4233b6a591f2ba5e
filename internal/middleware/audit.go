package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// auditParams are route parameters copied into the audit line when present.
var auditParams = []string{"contractId", "userId", "reference"}

// Audit writes one access line per request with the status the client received. Errors are
// rendered here through the app ErrorHandler so the line carries the final status. Mutations
// are logged at info and reads at debug, so money movements stay visible at the default level.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if err := c.Next(); err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}

		status := c.Response().StatusCode()
		attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("route", c.Route().Path),
			slog.Int("status", status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", RequestIDFrom(c)),
		}
		if p, ok := PrincipalFrom(c); ok {
			attrs = append(attrs, slog.String("user_id", p.UserID), slog.String("role", string(p.Role)))
		}
		for _, name := range auditParams {
			if v := c.Params(name); v != "" {
				attrs = append(attrs, slog.String(name, v))
			}
		}

		level := slog.LevelInfo
		if safeMethod(c.Method()) && status < fiber.StatusBadRequest {
			level = slog.LevelDebug
		}
		logger.LogAttrs(c.UserContext(), level, "request", attrs...)
		return nil
	}
}
