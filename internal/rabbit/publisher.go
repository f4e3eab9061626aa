package rabbit

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
)

// publishChannel is the publish surface of amqp.Channel.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher publishes persistent JSON messages. It serves both the outbox
// dispatcher and the consumers that emit their outcome events directly.
type Publisher struct {
	ch     publishChannel
	logger *zap.Logger
}

func NewPublisher(ch publishChannel, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, logger: logger}
}

// Publish implements the dispatcher's publisher contract. Headers carry the
// event type and aggregate identifiers for downstream correlation; MessageId
// carries the outbox row id so consumers can deduplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, ev *model.OutboxEvent, exchange, routingKey string) error {
	return p.publish(ctx, exchange, routingKey, ev.ID, amqp.Table{
		"event_type":     ev.EventType,
		"aggregate_id":   ev.AggregateID,
		"aggregate_type": ev.AggregateType,
	}, ev.EventData)
}

// PublishEvent publishes a consumer outcome event.
func (p *Publisher) PublishEvent(ctx context.Context, exchange, routingKey, messageID, orderID string, body []byte) error {
	return p.publish(ctx, exchange, routingKey, messageID, amqp.Table{
		"event_type": routingKey,
		"order_id":   orderID,
	}, body)
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey, messageID string, headers amqp.Table, body []byte) error {
	err := p.ch.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			MessageId:    messageID,
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("published message",
		zap.String("message_id", messageID),
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey))
	return nil
}
