package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/auth"
)

const principalKey = "principal"

// JWTAuth validates the bearer access token and stores the caller's principal.
func JWTAuth(verifier *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fmt.Errorf("%w: missing bearer token", apperrors.ErrUnauthorized)
		}
		p, err := verifier.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return err
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// PrincipalFrom returns the caller stored by JWTAuth.
func PrincipalFrom(c *fiber.Ctx) (auth.Principal, bool) {
	p, ok := c.Locals(principalKey).(auth.Principal)
	return p, ok
}

// MustPrincipal is PrincipalFrom for handlers mounted behind JWTAuth.
func MustPrincipal(c *fiber.Ctx) (auth.Principal, error) {
	p, ok := PrincipalFrom(c)
	if !ok {
		return auth.Principal{}, fmt.Errorf("%w: no authenticated caller", apperrors.ErrUnauthorized)
	}
	return p, nil
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}
		if !p.IsAdmin() {
			return fmt.Errorf("%w: admin role required", apperrors.ErrForbidden)
		}
		return c.Next()
	}
}

// SelfOrAdmin rejects callers that are neither the user named by the route param nor an admin.
func SelfOrAdmin(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}
		if !p.IsAdmin() && p.UserID != c.Params(param) {
			return fmt.Errorf("%w: not your wallet", apperrors.ErrForbidden)
		}
		return c.Next()
	}
}
