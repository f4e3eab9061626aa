package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-saga-pipeline/internal/model"
)

func TestRouteFor(t *testing.T) {
	cases := map[string]Route{
		model.EventOrderCreated:      {Exchange: OrderExchange, RoutingKey: "order.created"},
		model.EventPaymentAuthorized: {Exchange: PaymentExchange, RoutingKey: "payment.authorized"},
		model.EventPaymentDeclined:   {Exchange: PaymentExchange, RoutingKey: "payment.declined"},
		model.EventPaymentRefunded:   {Exchange: PaymentExchange, RoutingKey: "payment.refunded"},
		model.EventInventoryReserved: {Exchange: InventoryExchange, RoutingKey: "inventory.reserved"},
		model.EventInventoryRejected: {Exchange: InventoryExchange, RoutingKey: "inventory.rejected"},
		model.EventNotificationSent:  {Exchange: NotificationExchange, RoutingKey: "notification.sent"},
	}

	for eventType, want := range cases {
		got, err := RouteFor(eventType)
		require.NoError(t, err, eventType)
		assert.Equal(t, want, got, eventType)
	}
}

func TestRouteForUnknownType(t *testing.T) {
	_, err := RouteFor("order.shredded")
	assert.Error(t, err)
}
