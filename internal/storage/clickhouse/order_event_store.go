package clickhouse

import (
	"context"
	"fmt"
	"time"

	"trustflow/internal/domain"
	"trustflow/internal/observability"
	"trustflow/internal/storage"
)

// OrderEventStore implements storage.OrderEventStore using ClickHouse.
// MergeTree does not enforce uniqueness at insert time, so duplicate
// event identifiers are checked explicitly before the insert.
type OrderEventStore struct {
	conn *Conn
}

// NewOrderEventStore creates a new OrderEventStore.
func NewOrderEventStore(conn *Conn) *OrderEventStore {
	return &OrderEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OrderEventStore = (*OrderEventStore)(nil)

// Append records a transition event. Returns ErrDuplicateKey if the
// event identifier exists.
func (s *OrderEventStore) Append(ctx context.Context, e *domain.OrderEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, e.EventID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO order_events (
			event_id, order_id, from_status, to_status, tx_hash, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	start := time.Now()
	err = s.conn.Exec(ctx, query,
		e.EventID,
		e.OrderID,
		string(e.FromStatus),
		string(e.ToStatus),
		e.TxHash,
		e.Detail,
		uint64(e.OccurredAt),
	)
	observability.RecordDBQuery("clickhouse", "append_order_event", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// GetByOrderID retrieves all events for an order, ordered by occurrence
// time ASC.
func (s *OrderEventStore) GetByOrderID(ctx context.Context, orderID int64) ([]*domain.OrderEvent, error) {
	query := `
		SELECT event_id, order_id, from_status, to_status, tx_hash, detail, occurred_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY occurred_at ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, orderID)
	observability.RecordDBQuery("clickhouse", "get_order_events", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var result []*domain.OrderEvent
	for rows.Next() {
		var (
			e          domain.OrderEvent
			fromStatus string
			toStatus   string
			occurredAt uint64
		)
		if err := rows.Scan(&e.EventID, &e.OrderID, &fromStatus, &toStatus, &e.TxHash, &e.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		e.FromStatus = domain.OrderStatus(fromStatus)
		e.ToStatus = domain.OrderStatus(toStatus)
		e.OccurredAt = int64(occurredAt)
		result = append(result, &e)
	}
	return result, rows.Err()
}

// exists reports whether an event with the given identifier was already
// journaled.
func (s *OrderEventStore) exists(ctx context.Context, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM order_events WHERE event_id = $1`, eventID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
