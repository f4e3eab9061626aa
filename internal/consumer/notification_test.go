package consumer

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/rabbit"
)

type fakeNotificationStore struct {
	order    *model.Order
	getErr   error
	recorded *model.NotificationEvent
	applied  bool
}

func (s *fakeNotificationStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *fakeNotificationStore) RecordNotification(ctx context.Context, messageID string, ev *model.NotificationEvent) (bool, error) {
	s.recorded = ev
	return s.applied, nil
}

type fakeNotifier struct {
	sent []string // notification types
	err  error
}

func (n *fakeNotifier) Send(ctx context.Context, customerID, orderID, notificationType string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, notificationType)
	return nil
}

func completedOrder() *model.Order {
	return &model.Order{
		ID:         "order-1",
		CustomerID: "customer-1",
		ProductID:  "product-1",
		Status:     model.OrderCompleted,
	}
}

func reservedEvent() model.InventoryEvent {
	return model.InventoryEvent{
		InventoryID: "inventory-1",
		OrderID:     "order-1",
		ProductID:   "product-1",
		Quantity:    2,
		Status:      model.InventoryReserved,
		TraceID:     "trace-1",
	}
}

func TestHandleInventoryOutcomeConfirmation(t *testing.T) {
	store := &fakeNotificationStore{order: completedOrder(), applied: true}
	notifier := &fakeNotifier{}
	publisher := &fakeEventPublisher{}
	c := NewNotificationConsumer(store, notifier, publisher, zap.NewNop())

	err := c.HandleInventoryOutcome(context.Background(), newDelivery(t, "msg-1", reservedEvent()))
	require.NoError(t, err)

	assert.Equal(t, []string{NotificationOrderConfirmation}, notifier.sent)
	require.NotNil(t, store.recorded)
	assert.Equal(t, NotificationOrderConfirmation, store.recorded.NotificationType)
	assert.Equal(t, model.NotificationSent, store.recorded.Status)
	assert.Equal(t, "trace-1", store.recorded.TraceID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "notification.events", publisher.events[0].exchange)
	assert.Equal(t, model.EventNotificationSent, publisher.events[0].routingKey)
}

func TestHandleInventoryOutcomeFailure(t *testing.T) {
	order := completedOrder()
	order.Status = model.OrderFailed
	store := &fakeNotificationStore{order: order, applied: true}
	notifier := &fakeNotifier{}
	c := NewNotificationConsumer(store, notifier, &fakeEventPublisher{}, zap.NewNop())

	ev := reservedEvent()
	ev.Status = model.InventoryRejected
	err := c.HandleInventoryOutcome(context.Background(), newDelivery(t, "msg-1", ev))
	require.NoError(t, err)

	assert.Equal(t, []string{NotificationOrderFailed}, notifier.sent)
	assert.Equal(t, NotificationOrderFailed, store.recorded.NotificationType)
}

func TestHandleInventoryOutcomeMalformedPayload(t *testing.T) {
	c := NewNotificationConsumer(&fakeNotificationStore{}, &fakeNotifier{}, &fakeEventPublisher{}, zap.NewNop())

	err := c.HandleInventoryOutcome(context.Background(), amqp.Delivery{MessageId: "msg-1", Body: []byte("nope")})
	assert.ErrorIs(t, err, rabbit.ErrReject)

	err = c.HandleInventoryOutcome(context.Background(), newDelivery(t, "msg-2", model.InventoryEvent{}))
	assert.ErrorIs(t, err, rabbit.ErrReject)
}

func TestHandleInventoryOutcomeSendFailureRetries(t *testing.T) {
	store := &fakeNotificationStore{order: completedOrder()}
	notifier := &fakeNotifier{err: errors.New("smtp unavailable")}
	c := NewNotificationConsumer(store, notifier, &fakeEventPublisher{}, zap.NewNop())

	err := c.HandleInventoryOutcome(context.Background(), newDelivery(t, "msg-1", reservedEvent()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, rabbit.ErrReject))
	assert.Nil(t, store.recorded)
}

func TestHandleInventoryOutcomeDuplicateDoesNotRepublish(t *testing.T) {
	store := &fakeNotificationStore{order: completedOrder(), applied: false}
	notifier := &fakeNotifier{}
	publisher := &fakeEventPublisher{}
	c := NewNotificationConsumer(store, notifier, publisher, zap.NewNop())

	err := c.HandleInventoryOutcome(context.Background(), newDelivery(t, "msg-1", reservedEvent()))
	require.NoError(t, err)
	assert.Empty(t, publisher.events)
}
