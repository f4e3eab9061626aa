package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/metrics"
)

// ErrReject marks a message as unprocessable (malformed payload, unknown
// shape). The runner routes it to the dead-letter queue instead of retrying.
var ErrReject = errors.New("message rejected")

// MaxDeliveries bounds how many times a message may cycle through the retry
// queue before being dead-lettered for manual inspection.
const MaxDeliveries = 10

// Handler processes one delivery. Returning nil acknowledges the message.
// Returning ErrReject (possibly wrapped) dead-letters it. Any other error
// sends it through the retry queue for delayed redelivery.
type Handler func(ctx context.Context, d amqp.Delivery) error

// consumeChannel is the consume surface of amqp.Channel.
type consumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ConsumerRunner drives one queue with manual acknowledgment and a bounded
// number of in-flight messages.
type ConsumerRunner struct {
	ch       consumeChannel
	queue    string
	name     string
	prefetch int
	handler  Handler
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewConsumerRunner(ch consumeChannel, queue, name string, prefetch int, handler Handler, logger *zap.Logger, tracer trace.Tracer) *ConsumerRunner {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &ConsumerRunner{
		ch:       ch,
		queue:    queue,
		name:     name,
		prefetch: prefetch,
		handler:  handler,
		logger:   logger,
		tracer:   tracer,
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
func (r *ConsumerRunner) Run(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	msgs, err := r.ch.Consume(r.queue, r.name, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer on %s: %w", r.queue, err)
	}

	r.logger.Info("consumer started",
		zap.String("queue", r.queue),
		zap.Int("prefetch", r.prefetch))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("consumer stopped", zap.String("queue", r.queue))
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", r.queue)
			}
			r.handleDelivery(ctx, d)
		}
	}
}

func (r *ConsumerRunner) handleDelivery(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, r.name+".handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", d.MessageId),
		attribute.String("queue", r.queue),
	)

	defer func() {
		metrics.ConsumerProcessingDuration.WithLabelValues(r.name).Observe(time.Since(start).Seconds())
	}()

	if n := deliveryCount(d); n >= MaxDeliveries {
		r.logger.Error("message exceeded delivery budget, dead-lettering",
			zap.String("message_id", d.MessageId),
			zap.Int64("deliveries", n))
		r.deadLetter(ctx, d, "delivery budget exhausted")
		return
	}

	err := r.handler(ctx, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			r.logger.Error("failed to ack message", zap.String("message_id", d.MessageId), zap.Error(ackErr))
			return
		}
		metrics.ConsumerMessagesTotal.WithLabelValues(r.name, metrics.OutcomeProcessed).Inc()

	case errors.Is(err, ErrReject):
		r.logger.Error("rejecting unprocessable message",
			zap.String("message_id", d.MessageId),
			zap.Error(err))
		r.deadLetter(ctx, d, err.Error())

	default:
		// Nack without requeue: the queue's dead-letter config routes the
		// message into the retry queue, which redelivers after its TTL.
		r.logger.Warn("message handling failed, scheduling redelivery",
			zap.String("message_id", d.MessageId),
			zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			r.logger.Error("failed to nack message", zap.String("message_id", d.MessageId), zap.Error(nackErr))
			return
		}
		metrics.ConsumerMessagesTotal.WithLabelValues(r.name, metrics.OutcomeRequeued).Inc()
	}
}

// deadLetter publishes the raw message to the dead-letter exchange and acks
// the original so it never re-enters the retry loop.
func (r *ConsumerRunner) deadLetter(ctx context.Context, d amqp.Delivery, reason string) {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-dead-reason"] = reason
	headers["x-origin-queue"] = r.queue

	err := r.ch.PublishWithContext(ctx, DeadLetterExchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		Body:         d.Body,
		MessageId:    d.MessageId,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
	})
	if err != nil {
		// Keep the message in flight; redelivery will try dead-lettering again.
		r.logger.Error("failed to publish to dead-letter exchange",
			zap.String("message_id", d.MessageId),
			zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			r.logger.Error("failed to nack message", zap.String("message_id", d.MessageId), zap.Error(nackErr))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		r.logger.Error("failed to ack dead-lettered message", zap.String("message_id", d.MessageId), zap.Error(ackErr))
		return
	}
	metrics.ConsumerMessagesTotal.WithLabelValues(r.name, metrics.OutcomeRejected).Inc()
}

// deliveryCount counts prior deaths from the broker's x-death header.
func deliveryCount(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	var total int64
	for _, entry := range deaths {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if count, ok := table["count"].(int64); ok {
			total += count
		}
	}
	return total
}
