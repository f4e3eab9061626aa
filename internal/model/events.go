package model

import "time"

// Event types carried through the pipeline. The dispatcher's routing table and
// the broker queue bindings are keyed on these values.
const (
	EventOrderCreated      = "order.created"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentDeclined   = "payment.declined"
	EventPaymentRefunded   = "payment.refunded"
	EventInventoryReserved = "inventory.reserved"
	EventInventoryRejected = "inventory.rejected"
	EventNotificationSent  = "notification.sent"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateOrder = "order"
)

// OrderCreatedEvent is the order.created envelope, written into the outbox by
// the order writer and consumed by the payment authorizer.
type OrderCreatedEvent struct {
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	TotalAmount float64   `json:"total_amount"`
	CreatedAt   time.Time `json:"created_at"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
}

// PaymentEvent is the payment.authorized / payment.declined / payment.refunded
// envelope and the shape of the payment_events outcome row.
type PaymentEvent struct {
	PaymentID   string    `json:"payment_id"`
	OrderID     string    `json:"order_id"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
}

// Payment outcome statuses.
const (
	PaymentAuthorized = "authorized"
	PaymentDeclined   = "declined"
	PaymentRefunded   = "refunded"
)

// InventoryEvent is the inventory.reserved / inventory.rejected envelope and
// the shape of the inventory_events outcome row.
type InventoryEvent struct {
	InventoryID string    `json:"inventory_id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
}

// Inventory outcome statuses.
const (
	InventoryReserved = "reserved"
	InventoryRejected = "rejected"
)

// NotificationEvent is the notification.sent envelope and the shape of the
// notification_events outcome row.
type NotificationEvent struct {
	NotificationID   string    `json:"notification_id"`
	OrderID          string    `json:"order_id"`
	CustomerID       string    `json:"customer_id"`
	NotificationType string    `json:"notification_type"`
	Status           string    `json:"status"`
	SentAt           time.Time `json:"sent_at"`
	TraceID          string    `json:"trace_id,omitempty"`
	SpanID           string    `json:"span_id,omitempty"`
}

// Notification outcome statuses.
const (
	NotificationSent       = "sent"
	NotificationSendFailed = "failed"
)
