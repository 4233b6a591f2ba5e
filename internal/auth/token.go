package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/workbridge/escrow/internal/apperrors"
)

// Role is the caller's authority in the marketplace.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Claims are the access token claims. Tokens are issued by the identity provider; this service
// only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether p may act on behalf of the platform.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Verifier checks HS256 access tokens.
type Verifier struct {
	key []byte
	alg jwt.SigningMethod
}

// NewVerifier returns a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{key: []byte(secret), alg: jwt.SigningMethodHS256}
}

// Parse validates the token and returns its principal.
func (v *Verifier) Parse(raw string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(t *jwt.Token) (any, error) { return v.key, nil },
		jwt.WithValidMethods([]string{v.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}

	role := claims.Role
	switch role {
	case RoleUser, RoleAdmin:
	case "":
		role = RoleUser
	default:
		return Principal{}, fmt.Errorf("%w: unknown role %q", apperrors.ErrUnauthorized, role)
	}

	return Principal{UserID: claims.Subject, Role: role}, nil
}

// Issue signs a token for p that expires after ttl. Used by local tooling and tests.
func Issue(secret string, p Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" {
		return "", errors.New("principal user id is required")
	}
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: p.Role,
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}
