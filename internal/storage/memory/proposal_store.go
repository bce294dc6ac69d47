package memory

import (
	"context"
	"sync"

	"trustflow/internal/domain"
	"trustflow/internal/storage"
)

// ProposalStore is an in-memory implementation of storage.ProposalStore.
type ProposalStore struct {
	mu    sync.RWMutex
	data  map[int64]*domain.GovernanceProposal
	order []int64
}

// NewProposalStore creates a new in-memory proposal store.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		data: make(map[int64]*domain.GovernanceProposal),
	}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

// Insert stores a proposal. Returns ErrDuplicateKey if the identifier
// exists.
func (s *ProposalStore) Insert(_ context.Context, p *domain.GovernanceProposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	proposalCopy := *p
	s.data[p.ID] = &proposalCopy
	s.order = append(s.order, p.ID)
	return nil
}

// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) GetByID(_ context.Context, proposalID int64) (*domain.GovernanceProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[proposalID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	proposalCopy := *p
	return &proposalCopy, nil
}

// GetByOrderID retrieves the proposal tied to an order.
func (s *ProposalStore) GetByOrderID(_ context.Context, orderID int64) (*domain.GovernanceProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if s.data[id].OrderID == orderID {
			proposalCopy := *s.data[id]
			return &proposalCopy, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Update replaces the stored proposal. Returns ErrNotFound if the
// identifier does not exist.
func (s *ProposalStore) Update(_ context.Context, p *domain.GovernanceProposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; !exists {
		return storage.ErrNotFound
	}
	proposalCopy := *p
	s.data[p.ID] = &proposalCopy
	return nil
}

// List returns a snapshot of all proposals in insertion order.
func (s *ProposalStore) List(_ context.Context) ([]*domain.GovernanceProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.GovernanceProposal, 0, len(s.order))
	for _, id := range s.order {
		proposalCopy := *s.data[id]
		result = append(result, &proposalCopy)
	}
	return result, nil
}
