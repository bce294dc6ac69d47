package storage

import (
	"context"

	"trustflow/internal/domain"
)

// OrderStore is the registry of Order entities. Identifiers are assigned
// monotonically by the store starting at 1. The orchestrator is the
// single writer: reads return copies and all mutation goes through
// Update so the lifecycle state machine stays authoritative.
type OrderStore interface {
	// Insert assigns the next identifier, stamps it on the order, and
	// stores it. Returns the assigned identifier.
	Insert(ctx context.Context, o *domain.Order) (int64, error)

	// GetByID retrieves an order by identifier. Returns ErrNotFound if
	// it does not exist.
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)

	// Update replaces the stored order. Returns ErrNotFound if the
	// identifier was never issued.
	Update(ctx context.Context, o *domain.Order) error

	// List returns a snapshot of all orders in insertion order.
	List(ctx context.Context) ([]*domain.Order, error)
}

// ProposalStore holds governance proposals. Proposals are created once
// and mutated only by status; never deleted.
type ProposalStore interface {
	// Insert stores a proposal. Returns ErrDuplicateKey if the
	// identifier exists.
	Insert(ctx context.Context, p *domain.GovernanceProposal) error

	// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, proposalID int64) (*domain.GovernanceProposal, error)

	// GetByOrderID retrieves the proposal tied to an order. Returns
	// ErrNotFound if the order has no proposal.
	GetByOrderID(ctx context.Context, orderID int64) (*domain.GovernanceProposal, error)

	// Update replaces the stored proposal. Returns ErrNotFound if the
	// identifier does not exist.
	Update(ctx context.Context, p *domain.GovernanceProposal) error

	// List returns a snapshot of all proposals in insertion order.
	List(ctx context.Context) ([]*domain.GovernanceProposal, error)
}

// OrderEventStore is the append-only journal of order state transitions.
type OrderEventStore interface {
	// Append records a transition event. Returns ErrDuplicateKey if the
	// event identifier exists.
	Append(ctx context.Context, e *domain.OrderEvent) error

	// GetByOrderID retrieves all events for an order, ordered by
	// occurrence time ASC.
	GetByOrderID(ctx context.Context, orderID int64) ([]*domain.OrderEvent, error)
}
