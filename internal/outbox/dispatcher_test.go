package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/config"
	"order-saga-pipeline/internal/model"
)

type fakeStore struct {
	due          []*model.OutboxEvent
	listErr      error
	processed    []string
	processedErr error
	retried      map[string]time.Time
	failed       []string
}

func (s *fakeStore) ListDue(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	if s.processedErr != nil {
		return s.processedErr
	}
	s.processed = append(s.processed, id)
	return nil
}

func (s *fakeStore) MarkPublishFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	if s.retried == nil {
		s.retried = map[string]time.Time{}
	}
	s.retried[id] = nextAttempt
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string, cause string) error {
	s.failed = append(s.failed, id)
	return nil
}

func (s *fakeStore) ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	return nil, nil
}

func (s *fakeStore) Requeue(ctx context.Context, id string) error { return nil }

type fakePublisher struct {
	published []string
	routes    map[string]Route
	err       error
}

func (p *fakePublisher) Publish(ctx context.Context, ev *model.OutboxEvent, exchange, routingKey string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev.ID)
	if p.routes == nil {
		p.routes = map[string]Route{}
	}
	p.routes[ev.ID] = Route{Exchange: exchange, RoutingKey: routingKey}
	return nil
}

func newTestDispatcher(store Store, publisher Publisher, cfg config.Dispatcher) *Dispatcher {
	return NewDispatcher(store, publisher, zap.NewNop(), otel.Tracer("test"), cfg)
}

func testEvent(t *testing.T, id string, createdAt time.Time, retryCount int) *model.OutboxEvent {
	t.Helper()
	ev, err := model.NewOutboxEvent("order-"+id, model.AggregateOrder, model.EventOrderCreated, []byte(`{}`))
	require.NoError(t, err)
	ev.ID = id
	ev.CreatedAt = createdAt
	ev.RetryCount = retryCount
	return ev
}

func TestDispatchOncePublishesOldestFirst(t *testing.T) {
	base := time.Now().UTC()
	store := &fakeStore{due: []*model.OutboxEvent{
		testEvent(t, "a", base, 0),
		testEvent(t, "b", base.Add(time.Second), 0),
		testEvent(t, "c", base.Add(2*time.Second), 0),
	}}
	publisher := &fakePublisher{}

	res := newTestDispatcher(store, publisher, config.Dispatcher{}).DispatchOnce(context.Background())

	assert.Equal(t, Result{Selected: 3, Published: 3, Failed: 0}, res)
	assert.Equal(t, []string{"a", "b", "c"}, publisher.published)
	assert.Equal(t, []string{"a", "b", "c"}, store.processed)
	assert.Equal(t, Route{Exchange: OrderExchange, RoutingKey: model.EventOrderCreated}, publisher.routes["a"])
}

func TestDispatchOnceListFailure(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	publisher := &fakePublisher{}

	res := newTestDispatcher(store, publisher, config.Dispatcher{}).DispatchOnce(context.Background())

	assert.Zero(t, res)
	assert.Empty(t, publisher.published)
}

func TestDispatchOnceCountsPublishDespiteMarkFailure(t *testing.T) {
	// Publish succeeded but the PROCESSED update did not: the event stays
	// claimable and will be published again. The cycle still reports it
	// published rather than failed.
	store := &fakeStore{
		due:          []*model.OutboxEvent{testEvent(t, "a", time.Now().UTC(), 0)},
		processedErr: errors.New("connection refused"),
	}
	publisher := &fakePublisher{}

	res := newTestDispatcher(store, publisher, config.Dispatcher{}).DispatchOnce(context.Background())

	assert.Equal(t, Result{Selected: 1, Published: 1, Failed: 0}, res)
	assert.Equal(t, []string{"a"}, publisher.published)
	assert.Empty(t, store.processed)
}

func TestDispatchOnceSchedulesRetryOnPublishFailure(t *testing.T) {
	retryBase := 10 * time.Second
	ev := testEvent(t, "a", time.Now().UTC(), 2)
	store := &fakeStore{due: []*model.OutboxEvent{ev}}
	publisher := &fakePublisher{err: errors.New("broker unavailable")}

	before := time.Now().UTC()
	res := newTestDispatcher(store, publisher, config.Dispatcher{RetryBase: retryBase}).DispatchOnce(context.Background())

	assert.Equal(t, Result{Selected: 1, Published: 0, Failed: 1}, res)
	require.Contains(t, store.retried, "a")
	assert.Empty(t, store.processed)
	assert.Empty(t, store.failed)

	// retry_count 2 means the third attempt just failed; the next one waits
	// base * 2^2.
	next := store.retried["a"]
	assert.False(t, next.Before(before.Add(Backoff(retryBase, 2))))
}

func TestDispatchOnceParksUnroutableEvent(t *testing.T) {
	ev := testEvent(t, "a", time.Now().UTC(), 0)
	ev.EventType = "order.shredded"
	store := &fakeStore{due: []*model.OutboxEvent{ev}}
	publisher := &fakePublisher{}

	res := newTestDispatcher(store, publisher, config.Dispatcher{}).DispatchOnce(context.Background())

	assert.Equal(t, Result{Selected: 1, Published: 0, Failed: 1}, res)
	assert.Equal(t, []string{"a"}, store.failed)
	assert.Empty(t, publisher.published)
}

func TestBackoff(t *testing.T) {
	base := 10 * time.Second

	assert.Equal(t, 10*time.Second, Backoff(base, 0))
	assert.Equal(t, 20*time.Second, Backoff(base, 1))
	assert.Equal(t, 40*time.Second, Backoff(base, 2))
	assert.Equal(t, 80*time.Second, Backoff(base, 3))

	// Capped at ten minutes, including overflow territory.
	assert.Equal(t, 10*time.Minute, Backoff(base, 10))
	assert.Equal(t, 10*time.Minute, Backoff(base, 63))
	assert.Equal(t, 10*time.Minute, Backoff(base, 1000))

	assert.Equal(t, time.Duration(0), Backoff(0, 5))
	assert.Equal(t, 10*time.Second, Backoff(base, -1))
}
