package domain

// OrderEvent records one state transition of an order. Events are
// append-only: they are journaled for audit and fanned out to stream
// subscribers, never updated.
type OrderEvent struct {
	EventID    string      `json:"event_id"` // uuid
	OrderID    int64       `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	TxHash     string      `json:"tx_hash,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	OccurredAt int64       `json:"occurred_at"` // unix milliseconds
}
