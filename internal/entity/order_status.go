package entity

// OrderStatus is the escrow trade state. Transitions only move forward.
type OrderStatus string

const (
	OrderStatusAwaitingDeposit OrderStatus = "AWAITING_DEPOSIT"
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPendingPayment  OrderStatus = "PENDING_PAYMENT"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
)

var orderStatusNext = map[OrderStatus]OrderStatus{
	OrderStatusAwaitingDeposit: OrderStatusOpen,
	OrderStatusOpen:            OrderStatusPendingPayment,
	OrderStatusPendingPayment:  OrderStatusCompleted,
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusAwaitingDeposit, OrderStatusOpen, OrderStatusPendingPayment, OrderStatusCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is the single forward successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	n, ok := orderStatusNext[s]
	return ok && n == next
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted
}

func (s OrderStatus) String() string {
	return string(s)
}
