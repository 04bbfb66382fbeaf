package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	all := []OrderStatus{OrderStatusAwaitingDeposit, OrderStatusOpen, OrderStatusPendingPayment, OrderStatusCompleted}
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusAwaitingDeposit, OrderStatusOpen}:     true,
		{OrderStatusOpen, OrderStatusPendingPayment}:      true,
		{OrderStatusPendingPayment, OrderStatusCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equalf(t, allowed[[2]OrderStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, OrderStatusCompleted.IsTerminal())
	assert.False(t, OrderStatus("CANCELLED").IsValid())
}
