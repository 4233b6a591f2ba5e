package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/render"
)

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, apperrors.ErrConflict), errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error, status int) string {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	case errors.Is(err, apperrors.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, apperrors.ErrStorage):
		return "storage_unavailable"
	case errors.Is(err, apperrors.ErrValidation):
		return render.ValidationErrorType
	}
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "idempotency_key_reused"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	default:
		return render.ServiceErrorType
	}
}

// ErrorHandler renders every error returned by a handler as an ErrorResponse.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var reqErr *render.RequestError
		if errors.As(err, &reqErr) {
			return render.Error(c, http.StatusBadRequest, reqErr.Response)
		}

		status := StatusFor(err)
		requestID := RequestIDFrom(c)
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.String("request_id", requestID),
			slog.Any("error", err),
		}

		message := err.Error()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", attrs...)
			if status == http.StatusInternalServerError {
				message = "internal server error"
			}
		} else {
			logger.Info("request rejected", attrs...)
		}

		return render.Error(c, status, render.ErrorResponse{Error: errorCode(err, status), Message: message})
	}
}
