package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/model"
)

// AuthorizationStatus is the payment gateway verdict.
type AuthorizationStatus string

const (
	AuthAuthorized AuthorizationStatus = "authorized"
	AuthProcessing AuthorizationStatus = "processing"
	AuthDeclined   AuthorizationStatus = "declined"
	AuthFailed     AuthorizationStatus = "failed"
)

// PaymentGateway is the third-party authorization black box. Implementations
// must be deterministic for the same order so redeliveries reach the same
// verdict.
type PaymentGateway interface {
	Authorize(ctx context.Context, order *model.Order) (AuthorizationStatus, error)
}

// SimulatedGateway authorizes everything up to a configured amount limit and
// declines the rest. Stands in for the real provider in local stacks.
type SimulatedGateway struct {
	AmountLimit float64
	Latency     time.Duration
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{AmountLimit: 10_000, Latency: 50 * time.Millisecond}
}

func (g *SimulatedGateway) Authorize(ctx context.Context, order *model.Order) (AuthorizationStatus, error) {
	if g.Latency > 0 {
		select {
		case <-time.After(g.Latency):
		case <-ctx.Done():
			return AuthFailed, ctx.Err()
		}
	}

	if order.TotalAmount > g.AmountLimit {
		return AuthDeclined, nil
	}
	return AuthAuthorized, nil
}

// TimeoutGateway bounds every authorization call. A provider that hangs past
// the budget surfaces as a transient error and the message is redelivered.
type TimeoutGateway struct {
	inner   PaymentGateway
	timeout time.Duration
}

func NewTimeoutGateway(inner PaymentGateway, timeout time.Duration) *TimeoutGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TimeoutGateway{inner: inner, timeout: timeout}
}

func (g *TimeoutGateway) Authorize(ctx context.Context, order *model.Order) (AuthorizationStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.Authorize(ctx, order)
}

// BreakerGateway wraps a gateway with a circuit breaker so a flapping
// provider sheds load fast instead of stacking up slow calls. An open breaker
// surfaces as a transient error, which means redelivery.
type BreakerGateway struct {
	inner   PaymentGateway
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGateway(inner PaymentGateway, logger *zap.Logger) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payment gateway breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerGateway{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (g *BreakerGateway) Authorize(ctx context.Context, order *model.Order) (AuthorizationStatus, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		status, err := g.inner.Authorize(ctx, order)
		if err != nil {
			return nil, err
		}
		// AuthFailed means the provider itself errored; count it against the
		// breaker. Declines are successful calls with a negative verdict.
		if status == AuthFailed {
			return nil, fmt.Errorf("payment gateway failure for order %s", order.ID)
		}
		return status, nil
	})
	if err != nil {
		return AuthFailed, err
	}
	return result.(AuthorizationStatus), nil
}
