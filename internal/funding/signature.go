package funding

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/workbridge/escrow/internal/apperrors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Checkout-Signature"

// Sign returns the signature the provider sends for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body in constant time.
func Verify(secret string, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing %s", apperrors.ErrUnauthorized, SignatureHeader)
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return fmt.Errorf("%w: malformed webhook signature", apperrors.ErrUnauthorized)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: webhook signature mismatch", apperrors.ErrUnauthorized)
	}
	return nil
}
