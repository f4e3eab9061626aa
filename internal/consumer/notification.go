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

const notificationConsumerName = "notification-dispatch"

// Notification types sent to customers.
const (
	NotificationOrderConfirmation = "order_confirmation"
	NotificationOrderFailed       = "order_failed"
)

// Notifier delivers one customer notification. Errors are transient; the
// message is redelivered.
type Notifier interface {
	Send(ctx context.Context, customerID, orderID, notificationType string) error
}

// LogNotifier stands in for the real mail/push provider in local stacks.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Send(ctx context.Context, customerID, orderID, notificationType string) error {
	n.Logger.Info("notification sent",
		zap.String("customer_id", customerID),
		zap.String("order_id", orderID),
		zap.String("notification_type", notificationType))
	return nil
}

// NotificationStore is the persistence surface the notification consumer needs.
type NotificationStore interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	RecordNotification(ctx context.Context, messageID string, ev *model.NotificationEvent) (bool, error)
}

// NotificationConsumer notifies customers about the final reservation outcome
// of their order.
type NotificationConsumer struct {
	store     NotificationStore
	notifier  Notifier
	publisher EventPublisher
	logger    *zap.Logger
}

func NewNotificationConsumer(store NotificationStore, notifier Notifier, publisher EventPublisher, logger *zap.Logger) *NotificationConsumer {
	return &NotificationConsumer{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

// HandleInventoryOutcome processes one inventory.reserved or
// inventory.rejected delivery.
func (c *NotificationConsumer) HandleInventoryOutcome(ctx context.Context, d amqp.Delivery) error {
	var inventory model.InventoryEvent
	if err := json.Unmarshal(d.Body, &inventory); err != nil {
		return fmt.Errorf("%w: undecodable inventory payload: %s", rabbit.ErrReject, err)
	}
	if inventory.OrderID == "" {
		return fmt.Errorf("%w: inventory payload missing order_id", rabbit.ErrReject)
	}

	notificationType := NotificationOrderFailed
	if inventory.Status == model.InventoryReserved {
		notificationType = NotificationOrderConfirmation
	}

	order, err := c.store.GetOrder(ctx, inventory.OrderID)
	if err != nil {
		return err
	}

	if err := c.notifier.Send(ctx, order.CustomerID, order.ID, notificationType); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	ev := &model.NotificationEvent{
		NotificationID:   uuid.New().String(),
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		NotificationType: notificationType,
		Status:           model.NotificationSent,
		SentAt:           time.Now().UTC(),
		TraceID:          inventory.TraceID,
		SpanID:           inventory.SpanID,
	}

	applied, err := c.store.RecordNotification(ctx, d.MessageId, ev)
	if err != nil {
		return err
	}
	if !applied {
		// Redelivery of a notification we already sent and recorded.
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	route, err := outbox.RouteFor(model.EventNotificationSent)
	if err != nil {
		return err
	}
	if err := c.publisher.PublishEvent(ctx, route.Exchange, route.RoutingKey, ev.NotificationID, ev.OrderID, body); err != nil {
		return err
	}

	c.logger.Info("notification dispatched",
		zap.String("order_id", ev.OrderID),
		zap.String("notification_type", ev.NotificationType))
	return nil
}
