package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/config"
	"order-saga-pipeline/internal/metrics"
	"order-saga-pipeline/internal/model"
)

// Publisher sends one outbox event to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev *model.OutboxEvent, exchange, routingKey string) error
}

// Result captures one dispatch cycle outcome.
type Result struct {
	Selected  int
	Published int
	Failed    int
}

// Dispatcher drains due outbox rows to the broker, oldest first, with
// at-least-once semantics: the publish happens before the PROCESSED update, so
// a crash in between duplicates the publish on a later cycle.
type Dispatcher struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	cfg       config.Dispatcher
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger, tracer trace.Tracer, cfg config.Dispatcher) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 10 * time.Second
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger,
		tracer:    tracer,
		cfg:       cfg,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce runs a single dispatch cycle and returns its counters.
func (d *Dispatcher) DispatchOnce(ctx context.Context) Result {
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	var res Result

	events, err := d.store.ListDue(ctx, d.cfg.BatchSize)
	if err != nil {
		// Transient store trouble; the next tick retries the whole window.
		d.logger.Error("failed to list due outbox events", zap.Error(err))
		return res
	}
	res.Selected = len(events)

	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if d.dispatchEvent(ctx, ev) {
			res.Published++
		} else {
			res.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.selected", res.Selected),
		attribute.Int("outbox.published", res.Published),
		attribute.Int("outbox.failed", res.Failed),
	)
	metrics.OutboxDispatchDuration.Observe(time.Since(start).Seconds())

	if res.Selected > 0 {
		d.logger.Info("outbox dispatch cycle finished",
			zap.Int("selected", res.Selected),
			zap.Int("published", res.Published),
			zap.Int("failed", res.Failed))
	}

	return res
}

// dispatchEvent publishes one event and updates its row. Reports whether the
// event ended up published.
func (d *Dispatcher) dispatchEvent(ctx context.Context, ev *model.OutboxEvent) bool {
	ctx, span := d.tracer.Start(ctx, "outbox.dispatch_event")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.type", ev.EventType),
		attribute.String("event.aggregate_id", ev.AggregateID),
	)

	route, err := RouteFor(ev.EventType)
	if err != nil {
		// Unroutable events can never succeed; park them for inspection.
		d.logger.Error("unroutable outbox event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType))
		if markErr := d.store.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			d.logger.Error("failed to mark unroutable event failed", zap.Error(markErr))
		}
		metrics.OutboxExhaustedTotal.Inc()
		return false
	}

	if err := d.publisher.Publish(ctx, ev, route.Exchange, route.RoutingKey); err != nil {
		metrics.OutboxPublishFailuresTotal.Inc()
		nextAttempt := time.Now().UTC().Add(Backoff(d.cfg.RetryBase, ev.RetryCount))
		d.logger.Warn("failed to publish outbox event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
			zap.Int("retry_count", ev.RetryCount),
			zap.Time("next_attempt_at", nextAttempt),
			zap.Error(err))
		if ev.RetryCount+1 >= ev.MaxRetries {
			metrics.OutboxExhaustedTotal.Inc()
		}
		if markErr := d.store.MarkPublishFailure(ctx, ev.ID, nextAttempt); markErr != nil {
			d.logger.Error("failed to record publish failure", zap.Error(markErr))
		}
		return false
	}

	if err := d.store.MarkProcessed(ctx, ev.ID, time.Now().UTC()); err != nil {
		// Published but not recorded: the row will be re-published once its
		// lease expires. Consumers must tolerate the duplicate.
		d.logger.Error("event published but not marked processed; duplicate expected",
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}

	metrics.OutboxPublishedTotal.Inc()
	return true
}

// Backoff returns the delay before the next publish attempt:
// base * 2^attempt, capped at 10 minutes.
func Backoff(base time.Duration, attempt int) time.Duration {
	const maxDelay = 10 * time.Minute
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}
