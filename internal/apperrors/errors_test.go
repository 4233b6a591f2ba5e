package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	t.Run("wraps driver errors", func(t *testing.T) {
		cause := errors.New("connection reset")

		err := Storage("append entry", cause)

		require.ErrorIs(t, err, ErrStorage)
		require.ErrorIs(t, err, cause, "original error must stay in the chain")
		require.Contains(t, err.Error(), "append entry")
	})

	t.Run("keeps domain errors", func(t *testing.T) {
		err := Storage("apply delta", ErrInsufficientFunds)

		require.ErrorIs(t, err, ErrInsufficientFunds)
		require.NotErrorIs(t, err, ErrStorage)
	})

	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, Storage("noop", nil))
	})
}

func TestBuilders(t *testing.T) {
	require.ErrorIs(t, Validation("amount %s", "-1"), ErrValidation)
	require.ErrorIs(t, InvalidState("escrow %s", "x"), ErrInvalidState)
	require.True(t, IsDomain(Validation("x")))
	require.False(t, IsDomain(errors.New("boom")))
}
