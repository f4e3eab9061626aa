package outbox

import (
	"fmt"

	"order-saga-pipeline/internal/model"
)

// Route is the broker destination for one event type.
type Route struct {
	Exchange   string
	RoutingKey string
}

// Exchange names, one topic exchange per domain.
const (
	OrderExchange        = "order.events"
	PaymentExchange      = "payment.events"
	InventoryExchange    = "inventory.events"
	NotificationExchange = "notification.events"
)

// routes is the static event-type -> destination table. Routing keys equal the
// event type so queue bindings stay readable in the broker UI.
var routes = map[string]Route{
	model.EventOrderCreated:      {Exchange: OrderExchange, RoutingKey: model.EventOrderCreated},
	model.EventPaymentAuthorized: {Exchange: PaymentExchange, RoutingKey: model.EventPaymentAuthorized},
	model.EventPaymentDeclined:   {Exchange: PaymentExchange, RoutingKey: model.EventPaymentDeclined},
	model.EventPaymentRefunded:   {Exchange: PaymentExchange, RoutingKey: model.EventPaymentRefunded},
	model.EventInventoryReserved: {Exchange: InventoryExchange, RoutingKey: model.EventInventoryReserved},
	model.EventInventoryRejected: {Exchange: InventoryExchange, RoutingKey: model.EventInventoryRejected},
	model.EventNotificationSent:  {Exchange: NotificationExchange, RoutingKey: model.EventNotificationSent},
}

// RouteFor resolves the destination for an event type.
func RouteFor(eventType string) (Route, error) {
	r, ok := routes[eventType]
	if !ok {
		return Route{}, fmt.Errorf("no route for event type %q", eventType)
	}
	return r, nil
}
