package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the saga pipeline. Counters are shared across
// binaries; each service only ever touches its own.
var (
	OrdersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders accepted by the order writer",
		},
	)

	OrderCreateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_create_failures_total",
			Help: "Total number of order creation transactions rolled back",
		},
	)

	OutboxPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Total number of outbox events published to the broker",
		},
	)

	OutboxPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
	)

	OutboxExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_events_exhausted_total",
			Help: "Total number of outbox events that ran out of retries",
		},
	)

	OutboxDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_dispatch_cycle_duration_seconds",
			Help:    "Duration of one outbox dispatch cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Messages handled by downstream consumers, by outcome",
		},
		[]string{"consumer", "outcome"},
	)

	ConsumerProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumer_processing_duration_seconds",
			Help:    "Duration of one message-handling attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)
)

// Message handling outcomes recorded on ConsumerMessagesTotal.
const (
	OutcomeProcessed = "processed"
	OutcomeRequeued  = "requeued"
	OutcomeRejected  = "rejected"
)

// Register registers all pipeline metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		OrdersCreatedTotal,
		OrderCreateFailuresTotal,
		OutboxPublishedTotal,
		OutboxPublishFailuresTotal,
		OutboxExhaustedTotal,
		OutboxDispatchDuration,
		ConsumerMessagesTotal,
		ConsumerProcessingDuration,
	)
}

// Handler exposes the default registry for the ops listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
