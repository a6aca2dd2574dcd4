package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubOrderStatus_CanTransitionTo(t *testing.T) {
	chain := []SubOrderStatus{
		SubOrderStatusPending,
		SubOrderStatusConfirmed,
		SubOrderStatusProcessing,
		SubOrderStatusPacked,
		SubOrderStatusShipped,
		SubOrderStatusDelivered,
	}

	t.Run("allows each forward step", func(t *testing.T) {
		for i := 0; i < len(chain)-1; i++ {
			assert.True(t, chain[i].CanTransitionTo(chain[i+1]), "%s -> %s", chain[i], chain[i+1])
		}
	})

	t.Run("rejects skipping and going backwards", func(t *testing.T) {
		assert.False(t, SubOrderStatusPending.CanTransitionTo(SubOrderStatusShipped))
		assert.False(t, SubOrderStatusPacked.CanTransitionTo(SubOrderStatusConfirmed))
		assert.False(t, SubOrderStatusPending.CanTransitionTo(SubOrderStatusPending))
	})

	t.Run("cancel and refund reachable from any non-terminal state", func(t *testing.T) {
		for _, s := range chain[:len(chain)-1] {
			assert.True(t, s.CanTransitionTo(SubOrderStatusCancelled), s)
			assert.True(t, s.CanTransitionTo(SubOrderStatusRefunded), s)
		}
	})

	t.Run("terminal states go nowhere", func(t *testing.T) {
		for _, s := range []SubOrderStatus{SubOrderStatusDelivered, SubOrderStatusCancelled, SubOrderStatusRefunded} {
			assert.False(t, s.CanTransitionTo(SubOrderStatusCancelled), s)
			assert.False(t, s.CanTransitionTo(SubOrderStatusRefunded), s)
		}
	})
}

func TestSubOrderStatus_TransitionTo(t *testing.T) {
	require.NoError(t, SubOrderStatusShipped.TransitionTo(SubOrderStatusDelivered))

	err := SubOrderStatusPending.TransitionTo("teleported")
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, SubOrderStatusPending, te.From)
	assert.Equal(t, SubOrderStatus("teleported"), te.To)
}

func TestSubOrderStatus_SellerTransitionTo(t *testing.T) {
	t.Run("pending is left to the payment lifecycle", func(t *testing.T) {
		for _, next := range []SubOrderStatus{SubOrderStatusConfirmed, SubOrderStatusCancelled, SubOrderStatusRefunded} {
			err := SubOrderStatusPending.SellerTransitionTo(next)
			var te *TransitionError
			require.True(t, errors.As(err, &te), next)
			assert.Equal(t, "awaiting payment", te.Reason)
			assert.Contains(t, err.Error(), "awaiting payment")
		}
	})

	t.Run("paid sub-orders follow the fulfilment chain", func(t *testing.T) {
		assert.NoError(t, SubOrderStatusConfirmed.SellerTransitionTo(SubOrderStatusProcessing))
		assert.NoError(t, SubOrderStatusPacked.SellerTransitionTo(SubOrderStatusCancelled))
		assert.Error(t, SubOrderStatusConfirmed.SellerTransitionTo(SubOrderStatusShipped))
		assert.Error(t, SubOrderStatusDelivered.SellerTransitionTo(SubOrderStatusRefunded))
	})
}

func TestSubOrderStatus_HoldsStock(t *testing.T) {
	for _, s := range []SubOrderStatus{SubOrderStatusPending, SubOrderStatusConfirmed, SubOrderStatusProcessing, SubOrderStatusPacked} {
		assert.True(t, s.HoldsStock(), s)
	}
	for _, s := range []SubOrderStatus{SubOrderStatusShipped, SubOrderStatusDelivered, SubOrderStatusCancelled, SubOrderStatusRefunded} {
		assert.False(t, s.HoldsStock(), s)
	}
	assert.True(t, SubOrderStatusCancelled.ReleasesStock())
	assert.True(t, SubOrderStatusRefunded.ReleasesStock())
	assert.False(t, SubOrderStatusShipped.ReleasesStock())
}

func TestPaymentRecord_HasPlaceholderSession(t *testing.T) {
	assert.True(t, PaymentRecord{SessionID: "pending_abc"}.HasPlaceholderSession())
	assert.False(t, PaymentRecord{SessionID: "cs_test_123"}.HasPlaceholderSession())
	assert.False(t, PaymentRecord{}.HasPlaceholderSession())
}
