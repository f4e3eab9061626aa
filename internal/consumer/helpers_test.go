package consumer

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type published struct {
	exchange   string
	routingKey string
	messageID  string
	orderID    string
	body       []byte
}

// fakeEventPublisher records everything the consumers publish.
type fakeEventPublisher struct {
	events []published
	err    error
}

func (p *fakeEventPublisher) PublishEvent(ctx context.Context, exchange, routingKey, messageID, orderID string, body []byte) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{
		exchange:   exchange,
		routingKey: routingKey,
		messageID:  messageID,
		orderID:    orderID,
		body:       body,
	})
	return nil
}

func newDelivery(t *testing.T, messageID string, payload any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp.Delivery{MessageId: messageID, Body: body}
}
