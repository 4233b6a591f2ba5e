package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: non-positive amounts, missing references.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds occurs when an operation would drive a balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict is returned when escrow already exists for a contract.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState is returned when an escrow is not in a state that admits the operation.
	// Retrying cannot help.
	ErrInvalidState = errors.New("invalid state")

	// ErrStorage wraps failures of the transactional store. Nothing was committed, so the
	// whole operation is safe to retry.
	ErrStorage = errors.New("storage failure")

	// ErrConfirmationReplay marks a duplicate external payment confirmation. It never leaves
	// the payments service.
	ErrConfirmationReplay = errors.New("confirmation already applied")

	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Validation builds an ErrValidation with a message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// InvalidState builds an ErrInvalidState with a message.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Storage wraps err as an ErrStorage, keeping err in the chain.
// Errors that already carry a domain meaning are returned unchanged.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// IsDomain reports whether err is one of the caller-facing domain errors.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrInsufficientFunds,
		ErrConflict,
		ErrInvalidState,
		ErrConfirmationReplay,
		ErrNotFound,
		ErrUnauthorized,
		ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
