package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/outbox"
	"order-saga-pipeline/internal/rabbit"
)

const paymentConsumerName = "payment-authorizer"

// EventPublisher publishes a consumer's outcome event to the broker.
// Consumers publish directly, not through a second outbox hop.
type EventPublisher interface {
	PublishEvent(ctx context.Context, exchange, routingKey, messageID, orderID string, body []byte) error
}

// PaymentStore is the persistence surface the payment authorizer needs.
type PaymentStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	RecordPayment(ctx context.Context, messageID string, ev *model.PaymentEvent, next model.OrderStatus) (bool, error)
	FindPaymentByStatus(ctx context.Context, orderID, status string) (*model.PaymentEvent, error)
	RecordRefund(ctx context.Context, messageID string, ev *model.PaymentEvent) (bool, error)
}

// PaymentConsumer authorizes payment for created orders and compensates
// authorized payments when the inventory stage later rejects the order.
type PaymentConsumer struct {
	store     PaymentStore
	gateway   PaymentGateway
	publisher EventPublisher
	logger    *zap.Logger
}

func NewPaymentConsumer(store PaymentStore, gateway PaymentGateway, publisher EventPublisher, logger *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleOrderCreated processes one order.created delivery: ask the gateway
// for a verdict, persist the outcome plus the order transition, publish the
// payment event, and only then let the runner ack.
func (c *PaymentConsumer) HandleOrderCreated(ctx context.Context, d amqp.Delivery) error {
	var created model.OrderCreatedEvent
	if err := json.Unmarshal(d.Body, &created); err != nil {
		return fmt.Errorf("%w: undecodable order.created payload: %s", rabbit.ErrReject, err)
	}
	if created.OrderID == "" {
		return fmt.Errorf("%w: order.created payload missing order_id", rabbit.ErrReject)
	}

	order, err := c.store.GetOrder(ctx, created.OrderID)
	if err != nil {
		return err
	}

	if order.Status != model.OrderPending {
		// Redelivery of an order we already decided. Republish the recorded
		// outcome in case the first attempt died between commit and publish.
		return c.republishOutcome(ctx, d.MessageId, order.ID)
	}

	verdict, err := c.gateway.Authorize(ctx, order)
	if err != nil {
		return fmt.Errorf("payment gateway call failed: %w", err)
	}

	var next model.OrderStatus
	var eventType string
	switch verdict {
	case AuthAuthorized:
		next, eventType = model.OrderProcessing, model.EventPaymentAuthorized
	case AuthDeclined:
		next, eventType = model.OrderFailed, model.EventPaymentDeclined
	case AuthProcessing, AuthFailed:
		// Not a terminal verdict; redeliver and ask again.
		return fmt.Errorf("payment not settled for order %s: %s", order.ID, verdict)
	default:
		return fmt.Errorf("%w: unknown gateway verdict %q", rabbit.ErrReject, verdict)
	}

	ev := &model.PaymentEvent{
		PaymentID:   uuid.New().String(),
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Status:      string(verdict),
		ProcessedAt: time.Now().UTC(),
		TraceID:     created.TraceID,
		SpanID:      created.SpanID,
	}

	applied, err := c.store.RecordPayment(ctx, d.MessageId, ev, next)
	if err != nil {
		return err
	}
	if !applied {
		return c.republishOutcome(ctx, d.MessageId, order.ID)
	}

	if err := c.publishPayment(ctx, eventType, ev); err != nil {
		return err
	}

	c.logger.Info("payment decided",
		zap.String("order_id", order.ID),
		zap.String("payment_id", ev.PaymentID),
		zap.String("status", ev.Status))
	return nil
}

// HandleInventoryRejected compensates an authorized payment after the
// inventory stage rejected the order: record a refund outcome and announce it.
func (c *PaymentConsumer) HandleInventoryRejected(ctx context.Context, d amqp.Delivery) error {
	var rejected model.InventoryEvent
	if err := json.Unmarshal(d.Body, &rejected); err != nil {
		return fmt.Errorf("%w: undecodable inventory.rejected payload: %s", rabbit.ErrReject, err)
	}
	if rejected.OrderID == "" {
		return fmt.Errorf("%w: inventory.rejected payload missing order_id", rabbit.ErrReject)
	}

	authorized, err := c.store.FindPaymentByStatus(ctx, rejected.OrderID, model.PaymentAuthorized)
	if err != nil {
		return err
	}
	if authorized == nil {
		// Payment was declined or never reached; nothing to compensate.
		return nil
	}

	refunded, err := c.store.FindPaymentByStatus(ctx, rejected.OrderID, model.PaymentRefunded)
	if err != nil {
		return err
	}
	if refunded != nil {
		return nil
	}

	refund := &model.PaymentEvent{
		PaymentID:   uuid.New().String(),
		OrderID:     rejected.OrderID,
		Amount:      authorized.Amount,
		Status:      model.PaymentRefunded,
		ProcessedAt: time.Now().UTC(),
		TraceID:     rejected.TraceID,
		SpanID:      rejected.SpanID,
	}

	applied, err := c.store.RecordRefund(ctx, d.MessageId, refund)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := c.publishPayment(ctx, model.EventPaymentRefunded, refund); err != nil {
		return err
	}

	c.logger.Info("payment refunded after inventory rejection",
		zap.String("order_id", refund.OrderID),
		zap.String("payment_id", refund.PaymentID),
		zap.Float64("amount", refund.Amount))
	return nil
}

// republishOutcome re-announces a previously recorded payment decision.
func (c *PaymentConsumer) republishOutcome(ctx context.Context, messageID, orderID string) error {
	for _, status := range []string{model.PaymentAuthorized, model.PaymentDeclined} {
		ev, err := c.store.FindPaymentByStatus(ctx, orderID, status)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		c.logger.Info("duplicate delivery, republishing recorded payment outcome",
			zap.String("order_id", orderID),
			zap.String("message_id", messageID),
			zap.String("status", ev.Status))
		return c.publishPayment(ctx, eventTypeForPayment(ev.Status), ev)
	}
	return nil
}

func (c *PaymentConsumer) publishPayment(ctx context.Context, eventType string, ev *model.PaymentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}
	route, err := outbox.RouteFor(eventType)
	if err != nil {
		return err
	}
	return c.publisher.PublishEvent(ctx, route.Exchange, route.RoutingKey, ev.PaymentID, ev.OrderID, body)
}

func eventTypeForPayment(status string) string {
	switch status {
	case model.PaymentAuthorized:
		return model.EventPaymentAuthorized
	case model.PaymentRefunded:
		return model.EventPaymentRefunded
	default:
		return model.EventPaymentDeclined
	}
}
