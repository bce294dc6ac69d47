package memory

import (
	"context"
	"sort"
	"sync"

	"trustflow/internal/domain"
	"trustflow/internal/storage"
)

// OrderEventStore is an in-memory implementation of
// storage.OrderEventStore.
type OrderEventStore struct {
	mu     sync.RWMutex
	byID   map[string]*domain.OrderEvent // keyed by event_id
	events []*domain.OrderEvent          // append order
}

// NewOrderEventStore creates a new in-memory event journal.
func NewOrderEventStore() *OrderEventStore {
	return &OrderEventStore{
		byID: make(map[string]*domain.OrderEvent),
	}
}

// Compile-time interface check.
var _ storage.OrderEventStore = (*OrderEventStore)(nil)

// Append records a transition event. Returns ErrDuplicateKey if the
// event identifier exists.
func (s *OrderEventStore) Append(_ context.Context, e *domain.OrderEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}
	eventCopy := *e
	s.byID[e.EventID] = &eventCopy
	s.events = append(s.events, &eventCopy)
	return nil
}

// GetByOrderID retrieves all events for an order, ordered by occurrence
// time ASC. Events sharing a timestamp keep their append order.
func (s *OrderEventStore) GetByOrderID(_ context.Context, orderID int64) ([]*domain.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.OrderEvent
	for _, e := range s.events {
		if e.OrderID == orderID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt < result[j].OccurredAt
	})
	return result, nil
}
