package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"order-saga-pipeline/internal/model"
)

// Store is the outbox persistence contract used by the dispatcher and the
// replay tooling. The order writer inserts rows through InsertTx; everything
// else here mutates status/retry bookkeeping only.
type Store interface {
	ListDue(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string, processedAt time.Time) error
	MarkPublishFailure(ctx context.Context, id string, nextAttempt time.Time) error
	MarkFailed(ctx context.Context, id string, cause string) error
	ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	Requeue(ctx context.Context, id string) error
}

// InsertTx writes an outbox row inside the caller's transaction. This is the
// write half of the outbox pattern: it must share the transaction that writes
// the business record.
func InsertTx(ctx context.Context, tx pgx.Tx, ev *model.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events
			(id, aggregate_id, aggregate_type, event_type, event_data,
			 created_at, processed_at, status, retry_count, max_retries, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9, $10)
	`, ev.ID, ev.AggregateID, ev.AggregateType, ev.EventType, ev.EventData,
		ev.CreatedAt, ev.Status, ev.RetryCount, ev.MaxRetries, ev.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// PgStore is the pgx-backed outbox store.
type PgStore struct {
	db *pgxpool.Pool
	// lease is how far ListDue pushes next_attempt_at on claim. A dispatcher
	// that crashes mid-batch leaves its rows claimable again after the lease.
	lease time.Duration
}

func NewPgStore(db *pgxpool.Pool, lease time.Duration) *PgStore {
	if lease <= 0 {
		lease = time.Minute
	}
	return &PgStore{db: db, lease: lease}
}

// ListDue claims up to limit due PENDING rows, oldest first. The claim pushes
// next_attempt_at forward by the lease so concurrent dispatcher instances skip
// rows another instance is already publishing. Rows whose publish never gets
// confirmed become due again when the lease expires, which is where the
// at-least-once duplicate comes from.
func (s *PgStore) ListDue(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := s.db.Query(ctx, `
		WITH due AS (
			SELECT id FROM outbox_events
			WHERE status = 'PENDING' AND next_attempt_at <= now()
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_events o
		SET next_attempt_at = now() + $2
		FROM due
		WHERE o.id = due.id
		RETURNING o.id, o.aggregate_id, o.aggregate_type, o.event_type, o.event_data,
		          o.created_at, o.processed_at, o.status, o.retry_count, o.max_retries, o.next_attempt_at
	`, limit, s.lease)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due outbox events: %w", err)
	}
	defer rows.Close()

	var events []*model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.EventData,
			&e.CreatedAt, &e.ProcessedAt, &e.Status, &e.RetryCount, &e.MaxRetries, &e.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read outbox events: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the CTE's ordering.
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	return events, nil
}

func (s *PgStore) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PROCESSED', processed_at = $2
		WHERE id = $1
	`, id, processedAt)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}
	return nil
}

// MarkPublishFailure records one failed publish attempt. The row stays PENDING
// with a delayed next attempt until retries are exhausted, then flips FAILED
// and is never selected again.
func (s *PgStore) MarkPublishFailure(ctx context.Context, id string, nextAttempt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'PENDING' END,
		    next_attempt_at = $2
		WHERE id = $1
	`, id, nextAttempt)
	if err != nil {
		return fmt.Errorf("failed to record outbox publish failure: %w", err)
	}
	return nil
}

// MarkFailed moves a row straight to FAILED, bypassing retries. Used for
// events the dispatcher can never publish, e.g. an unroutable event type.
func (s *PgStore) MarkFailed(ctx context.Context, id string, cause string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'FAILED', retry_count = max_retries
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed (%s): %w", cause, err)
	}
	return nil
}

func (s *PgStore) ListFailed(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data,
		       created_at, processed_at, status, retry_count, max_retries, next_attempt_at
		FROM outbox_events
		WHERE status = 'FAILED'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed outbox events: %w", err)
	}
	defer rows.Close()

	var events []*model.OutboxEvent
	for rows.Next() {
		var e model.OutboxEvent
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.EventData,
			&e.CreatedAt, &e.ProcessedAt, &e.Status, &e.RetryCount, &e.MaxRetries, &e.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Requeue puts a FAILED row back to PENDING with a fresh retry budget. Manual
// operation only; the dispatcher never calls this.
func (s *PgStore) Requeue(ctx context.Context, id string) error {
	if err := model.ValidateOutboxTransition(model.OutboxFailed, model.OutboxPending); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'PENDING', retry_count = 0, next_attempt_at = now()
		WHERE id = $1 AND status = 'FAILED'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s is not FAILED", id)
	}
	return nil
}
