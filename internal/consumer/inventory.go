package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/outbox"
	"order-saga-pipeline/internal/rabbit"
)

const inventoryConsumerName = "inventory-reservation"

// InventoryStore is the persistence surface the reservation consumer needs.
type InventoryStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	ApplyReservation(ctx context.Context, ev *model.InventoryEvent) (bool, error)
	FindInventoryOutcome(ctx context.Context, orderID string) (*model.InventoryEvent, error)
}

// InventoryConsumer reserves stock for authorized orders. The conditional
// decrement inside ApplyReservation carries the idempotence: a redelivered
// authorization either finds the order already advanced (no-op) or runs the
// same check-and-decrement against current stock.
type InventoryConsumer struct {
	store     InventoryStore
	publisher EventPublisher
	logger    *zap.Logger
}

func NewInventoryConsumer(store InventoryStore, publisher EventPublisher, logger *zap.Logger) *InventoryConsumer {
	return &InventoryConsumer{store: store, publisher: publisher, logger: logger}
}

// HandlePaymentAuthorized processes one payment.authorized delivery.
func (c *InventoryConsumer) HandlePaymentAuthorized(ctx context.Context, d amqp.Delivery) error {
	var payment model.PaymentEvent
	if err := json.Unmarshal(d.Body, &payment); err != nil {
		return fmt.Errorf("%w: undecodable payment.authorized payload: %s", rabbit.ErrReject, err)
	}
	if payment.OrderID == "" {
		return fmt.Errorf("%w: payment.authorized payload missing order_id", rabbit.ErrReject)
	}
	if payment.Status != model.PaymentAuthorized {
		c.logger.Warn("ignoring payment event with unexpected status",
			zap.String("order_id", payment.OrderID),
			zap.String("status", payment.Status))
		return nil
	}

	order, err := c.store.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}

	if order.Status != model.OrderProcessing {
		// Already decided; republish the recorded outcome so the next stage
		// is not starved by a crash between commit and publish.
		return c.republishOutcome(ctx, d.MessageId, order.ID)
	}

	ev := &model.InventoryEvent{
		InventoryID: uuid.New().String(),
		OrderID:     order.ID,
		ProductID:   order.ProductID,
		Quantity:    order.Quantity,
		ProcessedAt: time.Now().UTC(),
		TraceID:     payment.TraceID,
		SpanID:      payment.SpanID,
	}

	reserved, err := c.store.ApplyReservation(ctx, ev)
	if errors.Is(err, ErrProductNotFound) {
		return fmt.Errorf("%w: %s", rabbit.ErrReject, err)
	}
	if err != nil {
		return err
	}

	if err := c.publishInventory(ctx, ev); err != nil {
		return err
	}

	c.logger.Info("reservation decided",
		zap.String("order_id", order.ID),
		zap.String("product_id", ev.ProductID),
		zap.Int("quantity", ev.Quantity),
		zap.Bool("reserved", reserved))
	return nil
}

func (c *InventoryConsumer) republishOutcome(ctx context.Context, messageID, orderID string) error {
	ev, err := c.store.FindInventoryOutcome(ctx, orderID)
	if err != nil {
		return err
	}
	if ev == nil {
		return nil
	}
	c.logger.Info("duplicate delivery, republishing recorded inventory outcome",
		zap.String("order_id", orderID),
		zap.String("message_id", messageID),
		zap.String("status", ev.Status))
	return c.publishInventory(ctx, ev)
}

func (c *InventoryConsumer) publishInventory(ctx context.Context, ev *model.InventoryEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal inventory event: %w", err)
	}
	eventType := model.EventInventoryRejected
	if ev.Status == model.InventoryReserved {
		eventType = model.EventInventoryReserved
	}
	route, err := outbox.RouteFor(eventType)
	if err != nil {
		return err
	}
	return c.publisher.PublishEvent(ctx, route.Exchange, route.RoutingKey, ev.InventoryID, ev.OrderID, body)
}
