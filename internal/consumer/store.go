package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-saga-pipeline/internal/model"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
)

// Store is the pgx-backed persistence layer shared by the downstream
// consumers. Each consumer only writes its own outcome table and the order
// status column; write conflicts are avoided by ownership, not locking.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
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

// advanceOrder applies a guarded status transition inside tx. Only the legal
// source statuses for the target can match; an order already sitting at the
// target is treated as a redelivery no-op. Anything else is an illegal
// transition and fails loudly instead of overwriting status.
func advanceOrder(ctx context.Context, tx pgx.Tx, orderID string, to model.OrderStatus) error {
	sources := model.TransitionSources(to)
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, orderID, to, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current model.OrderStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to read order status: %w", err)
	}
	if current == to {
		return nil
	}
	return model.ValidateOrderTransition(current, to)
}

// alreadyProcessed checks and claims the processed-message ledger row for a
// consumer inside tx. Reports true when the message was handled before.
func alreadyProcessed(ctx context.Context, tx pgx.Tx, messageID, consumerName string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1 AND consumer = $2)
	`, messageID, consumerName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed messages: %w", err)
	}
	if exists {
		return true, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO processed_messages (message_id, consumer, processed_at) VALUES ($1, $2, $3)
	`, messageID, consumerName, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record processed message: %w", err)
	}
	return false, nil
}

// RecordPayment persists a terminal payment outcome and advances the order in
// one transaction, deduplicated on the broker message id. Reports false when
// the message had already been processed.
func (s *Store) RecordPayment(ctx context.Context, messageID string, ev *model.PaymentEvent, next model.OrderStatus) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	duplicate, err := alreadyProcessed(ctx, tx, messageID, paymentConsumerName)
	if err != nil {
		return false, err
	}
	if duplicate {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_events (id, order_id, amount, status, processed_at, trace_id, span_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, ev.PaymentID, ev.OrderID, ev.Amount, ev.Status, ev.ProcessedAt, ev.TraceID, ev.SpanID)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment event: %w", err)
	}

	if err := advanceOrder(ctx, tx, ev.OrderID, next); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// FindPaymentByStatus returns the order's payment outcome row with the given
// status, or nil when absent.
func (s *Store) FindPaymentByStatus(ctx context.Context, orderID, status string) (*model.PaymentEvent, error) {
	var ev model.PaymentEvent
	err := s.db.QueryRow(ctx, `
		SELECT id, order_id, amount, status, processed_at, trace_id, span_id
		FROM payment_events
		WHERE order_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID, status).Scan(&ev.PaymentID, &ev.OrderID, &ev.Amount, &ev.Status,
		&ev.ProcessedAt, &ev.TraceID, &ev.SpanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment event: %w", err)
	}
	return &ev, nil
}

// RecordRefund persists a compensating refund outcome, deduplicated on the
// broker message id. The order itself is not touched; the inventory consumer
// already moved it to FAILED.
func (s *Store) RecordRefund(ctx context.Context, messageID string, ev *model.PaymentEvent) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	duplicate, err := alreadyProcessed(ctx, tx, messageID, paymentConsumerName)
	if err != nil {
		return false, err
	}
	if duplicate {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_events (id, order_id, amount, status, processed_at, trace_id, span_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, ev.PaymentID, ev.OrderID, ev.Amount, ev.Status, ev.ProcessedAt, ev.TraceID, ev.SpanID)
	if err != nil {
		return false, fmt.Errorf("failed to insert refund event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// ApplyReservation decides and records the reservation outcome in one
// transaction: the conditional decrement either applies (reserved) or leaves
// the stock row untouched (rejected), the outcome row is inserted, and the
// order is advanced. The conditional decrement is the idempotence mechanism:
// the WHERE clause makes a partial or repeated decrement impossible.
func (s *Store) ApplyReservation(ctx context.Context, ev *model.InventoryEvent) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, ev.ProductID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check product: %w", err)
	}
	if !exists {
		return false, ErrProductNotFound
	}

	tag, err := tx.Exec(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = now()
		WHERE id = $1 AND stock_quantity >= $2
	`, ev.ProductID, ev.Quantity)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}

	reserved := tag.RowsAffected() > 0
	next := model.OrderFailed
	ev.Status = model.InventoryRejected
	if reserved {
		ev.Status = model.InventoryReserved
		next = model.OrderCompleted
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_events (id, order_id, product_id, quantity, status, processed_at, trace_id, span_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, ev.InventoryID, ev.OrderID, ev.ProductID, ev.Quantity, ev.Status, ev.ProcessedAt, ev.TraceID, ev.SpanID)
	if err != nil {
		return false, fmt.Errorf("failed to insert inventory event: %w", err)
	}

	if err := advanceOrder(ctx, tx, ev.OrderID, next); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return reserved, nil
}

// FindInventoryOutcome returns the recorded reservation outcome for an order,
// or nil when absent. Used to republish after a crash between commit and ack.
func (s *Store) FindInventoryOutcome(ctx context.Context, orderID string) (*model.InventoryEvent, error) {
	var ev model.InventoryEvent
	err := s.db.QueryRow(ctx, `
		SELECT id, order_id, product_id, quantity, status, processed_at, trace_id, span_id
		FROM inventory_events
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID).Scan(&ev.InventoryID, &ev.OrderID, &ev.ProductID, &ev.Quantity, &ev.Status,
		&ev.ProcessedAt, &ev.TraceID, &ev.SpanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find inventory event: %w", err)
	}
	return &ev, nil
}

// RecordNotification persists a notification outcome, deduplicated on the
// broker message id.
func (s *Store) RecordNotification(ctx context.Context, messageID string, ev *model.NotificationEvent) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	duplicate, err := alreadyProcessed(ctx, tx, messageID, notificationConsumerName)
	if err != nil {
		return false, err
	}
	if duplicate {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_events
			(id, order_id, customer_id, notification_type, status, sent_at, trace_id, span_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, ev.NotificationID, ev.OrderID, ev.CustomerID, ev.NotificationType, ev.Status,
		ev.SentAt, ev.TraceID, ev.SpanID)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
