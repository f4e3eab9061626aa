package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"order-saga-pipeline/internal/metrics"
	"order-saga-pipeline/internal/model"
	"order-saga-pipeline/internal/outbox"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrInvalidAmount   = errors.New("total amount must be positive")
	ErrOrderNotFound   = errors.New("order not found")
)

// CreateOrderRequest is the validated input for order creation.
type CreateOrderRequest struct {
	CustomerID  string  `json:"customer_id" binding:"required,uuid"`
	ProductID   string  `json:"product_id" binding:"required,uuid"`
	Quantity    int     `json:"quantity" binding:"required"`
	TotalAmount float64 `json:"total_amount" binding:"required"`
}

func (r CreateOrderRequest) validate() error {
	if r.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.TotalAmount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// DB is the slice of pgxpool.Pool the order service needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderService is the order writer: it owns the Order row and its first
// outbox event, written in one atomic unit. It never touches the broker.
type OrderService struct {
	db     DB
	logger *zap.Logger
}

func NewOrderService(db DB, logger *zap.Logger) *OrderService {
	return &OrderService{db: db, logger: logger}
}

// CreateOrder persists the order (PENDING) and its order.created outbox event
// in a single transaction. If either insert fails both are rolled back; the
// caller never observes partial state and the broker is not involved.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback is a no-op once committed.
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	order := &model.Order{
		ID:          uuid.New().String(),
		CustomerID:  req.CustomerID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		TotalAmount: req.TotalAmount,
		Status:      model.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, product_id, quantity, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.CustomerID, order.ProductID, order.Quantity, order.TotalAmount,
		order.Status, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		metrics.OrderCreateFailuresTotal.Inc()
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	envelope := model.OrderCreatedEvent{
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		ProductID:   order.ProductID,
		Quantity:    order.Quantity,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		envelope.TraceID = sc.TraceID().String()
		envelope.SpanID = sc.SpanID().String()
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order.created payload: %w", err)
	}

	ev, err := model.NewOutboxEvent(order.ID, model.AggregateOrder, model.EventOrderCreated, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}

	if err := outbox.InsertTx(ctx, tx, ev); err != nil {
		metrics.OrderCreateFailuresTotal.Inc()
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.OrderCreateFailuresTotal.Inc()
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.OrdersCreatedTotal.Inc()
	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.String("outbox_event_id", ev.ID))

	return order, nil
}

// GetOrder returns one order by id.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	err := s.db.QueryRow(ctx, `
		SELECT id, customer_id, product_id, quantity, total_amount, status, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.CustomerID, &o.ProductID, &o.Quantity, &o.TotalAmount,
		&o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &o, nil
}

// ListOrdersByCustomer returns a customer's orders, newest first.
func (s *OrderService) ListOrdersByCustomer(ctx context.Context, customerID string, limit int) ([]*model.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, customer_id, product_id, quantity, total_amount, status, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.ProductID, &o.Quantity, &o.TotalAmount,
			&o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
