package model

import (
	"fmt"
	"time"
)

// OrderStatus is the saga-visible lifecycle state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderFailed     OrderStatus = "FAILED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// orderTransitions enumerates every legal status move. Consumers only ever
// advance an order one step; anything outside this table is a bug or a stale
// redelivery and must be rejected, not overwritten.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderFailed, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderFailed, OrderCancelled},
	OrderCompleted:  {},
	OrderFailed:     {},
	OrderCancelled:  {},
}

// IsValid reports whether the status is part of the order lifecycle.
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionSources returns every status from which next is reachable.
// Guarded UPDATEs use this as the allowed set for the WHERE clause.
func TransitionSources(next OrderStatus) []OrderStatus {
	var from []OrderStatus
	for src, targets := range orderTransitions {
		for _, t := range targets {
			if t == next {
				from = append(from, src)
			}
		}
	}
	return from
}

// ValidateOrderTransition returns a descriptive error for an illegal move.
func ValidateOrderTransition(from, to OrderStatus) error {
	if !from.IsValid() {
		return fmt.Errorf("invalid order status %q", from)
	}
	if !to.IsValid() {
		return fmt.Errorf("invalid order status %q", to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal order transition %s -> %s", from, to)
	}
	return nil
}

// Order is the aggregate the saga advances. It is created PENDING by the
// order writer and only ever moved by downstream consumers reacting to events.
type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	ProductID   string      `json:"product_id"`
	Quantity    int         `json:"quantity"`
	TotalAmount float64     `json:"total_amount"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
