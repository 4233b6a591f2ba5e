package escrow

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/workbridge/escrow/internal/apperrors"
)

func TestStatus(t *testing.T) {
	require.False(t, StatusFunded.Terminal())
	require.False(t, StatusDisputed.Terminal())
	require.True(t, StatusReleased.Terminal())
	require.True(t, StatusRefunded.Terminal())
	require.False(t, Status("split").Valid())
}

func TestTransitionApply(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	funded := Binding{
		ContractID:   "c1",
		ClientID:     "client",
		FreelancerID: "freelancer",
		Amount:       decimal.NewFromInt(200),
		Balance:      decimal.NewFromInt(200),
		Status:       StatusFunded,
	}

	t.Run("dispute records reason", func(t *testing.T) {
		next, err := Transition{
			From:    []Status{StatusFunded},
			To:      StatusDisputed,
			Balance: funded.Balance,
			Reason:  "late delivery",
			By:      "client",
			At:      at,
		}.Apply(funded)

		require.NoError(t, err)
		require.Equal(t, StatusDisputed, next.Status)
		require.Equal(t, "late delivery", next.DisputeReason)
		require.Equal(t, "client", next.DisputedBy)
		require.NotNil(t, next.DisputedAt)
		require.Equal(t, at, *next.DisputedAt)
	})

	t.Run("release empties balance", func(t *testing.T) {
		next, err := Transition{
			From:    []Status{StatusFunded, StatusDisputed},
			To:      StatusReleased,
			Balance: decimal.Zero,
			At:      at,
		}.Apply(funded)

		require.NoError(t, err)
		require.Equal(t, StatusReleased, next.Status)
		require.True(t, next.Balance.IsZero())
		require.Nil(t, next.DisputedAt)
	})

	t.Run("terminal admits nothing", func(t *testing.T) {
		released := funded
		released.Status = StatusReleased

		_, err := Transition{From: []Status{StatusFunded, StatusDisputed}, To: StatusRefunded}.Apply(released)

		require.ErrorIs(t, err, apperrors.ErrInvalidState)
		require.ErrorContains(t, err, "already released_to_freelancer")
	})

	t.Run("malformed transitions", func(t *testing.T) {
		for name, tr := range map[string]Transition{
			"unknown target":  {From: []Status{StatusFunded}, To: "split"},
			"no source":       {To: StatusReleased},
			"terminal source": {From: []Status{StatusReleased}, To: StatusRefunded},
			"unknown source":  {From: []Status{"pending"}, To: StatusReleased},
		} {
			_, err := tr.Apply(funded)
			require.ErrorIs(t, err, apperrors.ErrValidation, name)
		}
	})
}

func TestBindingIsParty(t *testing.T) {
	b := Binding{ClientID: "client", FreelancerID: "freelancer"}

	require.True(t, b.IsParty("client"))
	require.True(t, b.IsParty("freelancer"))
	require.False(t, b.IsParty("admin"))
	require.False(t, b.IsParty(""))
}
