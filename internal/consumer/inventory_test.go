package consumer

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/rabbit"
)

type fakeInventoryStore struct {
	order  *model.Order
	getErr error

	applied    *model.InventoryEvent
	reserved   bool
	applyErr   error
	outcome    *model.InventoryEvent
	outcomeErr error
}

func (s *fakeInventoryStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.order, nil
}

func (s *fakeInventoryStore) ApplyReservation(ctx context.Context, ev *model.InventoryEvent) (bool, error) {
	if s.applyErr != nil {
		return false, s.applyErr
	}
	ev.Status = model.InventoryRejected
	if s.reserved {
		ev.Status = model.InventoryReserved
	}
	s.applied = ev
	return s.reserved, nil
}

func (s *fakeInventoryStore) FindInventoryOutcome(ctx context.Context, orderID string) (*model.InventoryEvent, error) {
	return s.outcome, s.outcomeErr
}

func processingOrder() *model.Order {
	return &model.Order{
		ID:          "order-1",
		CustomerID:  "customer-1",
		ProductID:   "product-1",
		Quantity:    2,
		TotalAmount: 59.98,
		Status:      model.OrderProcessing,
	}
}

func authorizedEvent() model.PaymentEvent {
	return model.PaymentEvent{
		PaymentID:   "payment-1",
		OrderID:     "order-1",
		Amount:      59.98,
		Status:      model.PaymentAuthorized,
		ProcessedAt: time.Now().UTC(),
		TraceID:     "trace-1",
	}
}

func TestHandlePaymentAuthorizedReserves(t *testing.T) {
	store := &fakeInventoryStore{order: processingOrder(), reserved: true}
	publisher := &fakeEventPublisher{}
	c := NewInventoryConsumer(store, publisher, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-1", authorizedEvent()))
	require.NoError(t, err)

	require.NotNil(t, store.applied)
	assert.Equal(t, "product-1", store.applied.ProductID)
	assert.Equal(t, 2, store.applied.Quantity)
	assert.Equal(t, model.InventoryReserved, store.applied.Status)
	assert.Equal(t, "trace-1", store.applied.TraceID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, "inventory.events", publisher.events[0].exchange)
	assert.Equal(t, model.EventInventoryReserved, publisher.events[0].routingKey)
}

func TestHandlePaymentAuthorizedInsufficientStock(t *testing.T) {
	store := &fakeInventoryStore{order: processingOrder(), reserved: false}
	publisher := &fakeEventPublisher{}
	c := NewInventoryConsumer(store, publisher, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-1", authorizedEvent()))
	require.NoError(t, err)

	assert.Equal(t, model.InventoryRejected, store.applied.Status)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, model.EventInventoryRejected, publisher.events[0].routingKey)
}

func TestHandlePaymentAuthorizedMalformedPayload(t *testing.T) {
	c := NewInventoryConsumer(&fakeInventoryStore{}, &fakeEventPublisher{}, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), amqp.Delivery{MessageId: "msg-1", Body: []byte("{")})
	assert.ErrorIs(t, err, rabbit.ErrReject)

	err = c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-2", model.PaymentEvent{Status: model.PaymentAuthorized}))
	assert.ErrorIs(t, err, rabbit.ErrReject)
}

func TestHandlePaymentAuthorizedIgnoresOtherStatuses(t *testing.T) {
	// A declined event misrouted into this queue must not touch stock.
	store := &fakeInventoryStore{order: processingOrder()}
	publisher := &fakeEventPublisher{}
	c := NewInventoryConsumer(store, publisher, zap.NewNop())

	ev := authorizedEvent()
	ev.Status = model.PaymentDeclined
	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-1", ev))
	require.NoError(t, err)

	assert.Nil(t, store.applied)
	assert.Empty(t, publisher.events)
}

func TestHandlePaymentAuthorizedUnknownProduct(t *testing.T) {
	store := &fakeInventoryStore{order: processingOrder(), applyErr: ErrProductNotFound}
	c := NewInventoryConsumer(store, &fakeEventPublisher{}, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-1", authorizedEvent()))
	assert.ErrorIs(t, err, rabbit.ErrReject)
}

func TestHandlePaymentAuthorizedRedeliveryRepublishesOutcome(t *testing.T) {
	order := processingOrder()
	order.Status = model.OrderCompleted
	recorded := &model.InventoryEvent{
		InventoryID: "inventory-1",
		OrderID:     "order-1",
		ProductID:   "product-1",
		Quantity:    2,
		Status:      model.InventoryReserved,
	}
	store := &fakeInventoryStore{order: order, outcome: recorded}
	publisher := &fakeEventPublisher{}
	c := NewInventoryConsumer(store, publisher, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-2", authorizedEvent()))
	require.NoError(t, err)

	// No second decrement; only the recorded outcome goes out again.
	assert.Nil(t, store.applied)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, model.EventInventoryReserved, publisher.events[0].routingKey)
	assert.Equal(t, "inventory-1", publisher.events[0].messageID)
}

func TestHandlePaymentAuthorizedRedeliveryWithoutOutcome(t *testing.T) {
	// Order advanced but no outcome row is visible yet. Nothing to republish;
	// ack and move on.
	order := processingOrder()
	order.Status = model.OrderFailed
	store := &fakeInventoryStore{order: order}
	publisher := &fakeEventPublisher{}
	c := NewInventoryConsumer(store, publisher, zap.NewNop())

	err := c.HandlePaymentAuthorized(context.Background(), newDelivery(t, "msg-2", authorizedEvent()))
	require.NoError(t, err)
	assert.Empty(t, publisher.events)
}
