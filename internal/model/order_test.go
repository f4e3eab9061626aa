package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		allowed  bool
	}{
		{OrderPending, OrderProcessing, true},
		{OrderPending, OrderFailed, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderCompleted, false},
		{OrderProcessing, OrderCompleted, true},
		{OrderProcessing, OrderFailed, true},
		{OrderProcessing, OrderCancelled, true},
		{OrderProcessing, OrderPending, false},
		{OrderCompleted, OrderFailed, false},
		{OrderFailed, OrderProcessing, false},
		{OrderCancelled, OrderPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)

		err := ValidateOrderTransition(tc.from, tc.to)
		if tc.allowed {
			assert.NoError(t, err)
		} else {
			assert.Error(t, err)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderPending.IsTerminal())
	assert.False(t, OrderProcessing.IsTerminal())
	assert.True(t, OrderCompleted.IsTerminal())
	assert.True(t, OrderFailed.IsTerminal())
	assert.True(t, OrderCancelled.IsTerminal())
}

func TestOrderStatusIsValid(t *testing.T) {
	assert.True(t, OrderPending.IsValid())
	assert.False(t, OrderStatus("SHIPPED").IsValid())

	err := ValidateOrderTransition(OrderStatus("SHIPPED"), OrderCompleted)
	assert.Error(t, err)
}

func TestTransitionSources(t *testing.T) {
	sources := TransitionSources(OrderCompleted)
	require.Equal(t, []OrderStatus{OrderProcessing}, sources)

	sources = TransitionSources(OrderFailed)
	assert.ElementsMatch(t, []OrderStatus{OrderPending, OrderProcessing}, sources)

	// Nothing transitions into PENDING; it is the creation state.
	assert.Empty(t, TransitionSources(OrderPending))
}
