package memory

import (
	"context"
	"sync"

	"trustflow/internal/domain"
	"trustflow/internal/storage"
)

// OrderStore is an in-memory implementation of storage.OrderStore.
type OrderStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.Order
	order  []int64 // insertion order
	nextID int64
}

// NewOrderStore creates a new in-memory order store. Identifiers start
// at 1 and increase monotonically.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		data:   make(map[int64]*domain.Order),
		nextID: 1,
	}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

// Insert assigns the next identifier and stores a copy of the order.
func (s *OrderStore) Insert(_ context.Context, o *domain.Order) (int64, error) {
	if o == nil {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = s.nextID
	s.nextID++

	orderCopy := cloneOrder(o)
	s.data[o.ID] = orderCopy
	s.order = append(s.order, o.ID)
	return o.ID, nil
}

// GetByID retrieves an order by identifier. Returns ErrNotFound if it
// does not exist.
func (s *OrderStore) GetByID(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[orderID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneOrder(o), nil
}

// Update replaces the stored order. Returns ErrNotFound if the
// identifier was never issued.
func (s *OrderStore) Update(_ context.Context, o *domain.Order) error {
	if o == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.ID]; !exists {
		return storage.ErrNotFound
	}
	s.data[o.ID] = cloneOrder(o)
	return nil
}

// List returns a snapshot of all orders in insertion order.
func (s *OrderStore) List(_ context.Context) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Order, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, cloneOrder(s.data[id]))
	}
	return result, nil
}

// cloneOrder copies an order including its findings slice so callers
// cannot mutate stored state.
func cloneOrder(o *domain.Order) *domain.Order {
	orderCopy := *o
	if o.RuleFindings != nil {
		orderCopy.RuleFindings = append([]domain.RuleFinding(nil), o.RuleFindings...)
	}
	return &orderCopy
}
