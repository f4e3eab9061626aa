package rabbit

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology names. One topic exchange per domain, a shared retry
// exchange for delayed redelivery, and a shared dead-letter exchange/queue for
// poison messages.
const (
	RetryExchange      = "saga.retry"
	DeadLetterExchange = "saga.dlx"
	DeadLetterQueue    = "saga.dlq"
)

// Channel is the slice of amqp.Channel the topology and publisher need.
// Narrowed to an interface so tests can observe declarations.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareExchanges declares every exchange the pipeline publishes to, plus the
// retry and dead-letter exchanges and the dead-letter queue.
func DeclareExchanges(ch Channel, domainExchanges ...string) error {
	names := append([]string{RetryExchange, DeadLetterExchange}, domainExchanges...)
	for _, name := range names {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(DeadLetterQueue, "#", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	return nil
}

// ConsumerQueue describes one durable queue bound to a single upstream event
// type, paired with a TTL-based retry queue.
type ConsumerQueue struct {
	Name       string
	Exchange   string
	RoutingKey string
	RetryTTL   time.Duration
}

// retryName returns the paired retry queue name.
func (q ConsumerQueue) retryName() string {
	return q.Name + ".retry"
}

// MainQueueArgs returns the argument table for the main queue: rejected
// deliveries dead-letter into the retry exchange keyed by queue name.
func (q ConsumerQueue) MainQueueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    RetryExchange,
		"x-dead-letter-routing-key": q.Name,
	}
}

// RetryQueueArgs returns the argument table for the retry queue: messages sit
// for RetryTTL, then dead-letter back to the original exchange and routing key
// for redelivery. This fixed delay substitutes for broker-side backoff.
func (q ConsumerQueue) RetryQueueArgs() amqp.Table {
	return amqp.Table{
		"x-message-ttl":             q.RetryTTL.Milliseconds(),
		"x-dead-letter-exchange":    q.Exchange,
		"x-dead-letter-routing-key": q.RoutingKey,
	}
}

// Declare sets up the main queue, its bindings, and the paired retry queue.
func (q ConsumerQueue) Declare(ch Channel) error {
	if _, err := ch.QueueDeclare(q.Name, true, false, false, false, q.MainQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
	}
	if err := ch.QueueBind(q.Name, q.RoutingKey, q.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
	}

	if _, err := ch.QueueDeclare(q.retryName(), true, false, false, false, q.RetryQueueArgs()); err != nil {
		return fmt.Errorf("failed to declare retry queue for %s: %w", q.Name, err)
	}
	if err := ch.QueueBind(q.retryName(), q.Name, RetryExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind retry queue for %s: %w", q.Name, err)
	}

	return nil
}
