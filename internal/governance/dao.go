package governance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trustflow/internal/domain"
	"trustflow/internal/observability"
	"trustflow/internal/storage"
)

// DAO errors.
var (
	// ErrProposalNotFound is returned for unknown proposal identifiers.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrProposalNotActive is returned when voting on or executing a
	// proposal that has already been processed.
	ErrProposalNotActive = errors.New("proposal is not active")
)

// DAOManager is the in-process governance simulation. Proposals live in
// the injected proposal store; votes are tracked in memory. Proposal
// execution requires a simple yes-majority, which stays a local tally,
// not real quorum computation.
type DAOManager struct {
	store  storage.ProposalStore
	logger *log.Logger

	mu     sync.Mutex
	nextID int64
	votes  map[int64]map[string]bool // proposal_id -> voter -> support
}

// NewDAOManager creates a DAO manager. Proposal identifiers are seeded
// from the current time in milliseconds so they are visibly distinct
// from order identifiers.
func NewDAOManager(store storage.ProposalStore, logger *log.Logger) *DAOManager {
	if logger == nil {
		logger = log.Default()
	}
	return &DAOManager{
		store:  store,
		logger: logger,
		nextID: time.Now().UnixMilli(),
		votes:  make(map[int64]map[string]bool),
	}
}

// Compile-time interface check.
var _ Gate = (*DAOManager)(nil)

// Propose creates a governance proposal tied to an order.
func (m *DAOManager) Propose(ctx context.Context, orderID int64, title, proposer string) (*domain.GovernanceProposal, error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.votes[id] = make(map[string]bool)
	m.mu.Unlock()

	proposal := &domain.GovernanceProposal{
		ID:        id,
		OrderID:   orderID,
		Title:     title,
		Proposer:  proposer,
		Status:    domain.ProposalActive,
		CreatedAt: time.Now().Unix(),
	}
	if err := m.store.Insert(ctx, proposal); err != nil {
		return nil, fmt.Errorf("store proposal: %w", err)
	}

	observability.RecordProposalCreated()
	m.logger.Printf("dao: proposal %d created for order %d by %s: %s", id, orderID, proposer, title)
	return proposal, nil
}

// SimulateApproval unconditionally approves the proposal tied to an
// order.
func (m *DAOManager) SimulateApproval(ctx context.Context, orderID int64) error {
	proposal, err := m.store.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrProposalNotFound
		}
		return fmt.Errorf("load proposal for order %d: %w", orderID, err)
	}

	proposal.Status = domain.ProposalApproved
	if err := m.store.Update(ctx, proposal); err != nil {
		return fmt.Errorf("update proposal %d: %w", proposal.ID, err)
	}

	m.logger.Printf("dao: (simulated) proposal %d for order %d approved", proposal.ID, orderID)
	return nil
}

// Vote casts a yes/no vote on an active proposal. A voter's later vote
// replaces their earlier one.
func (m *DAOManager) Vote(ctx context.Context, proposalID int64, voter string, support bool) error {
	proposal, err := m.getProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != domain.ProposalActive {
		return ErrProposalNotActive
	}

	m.mu.Lock()
	if m.votes[proposalID] == nil {
		m.votes[proposalID] = make(map[string]bool)
	}
	m.votes[proposalID][voter] = support
	m.mu.Unlock()

	observability.RecordVote()
	m.logger.Printf("dao: %s voted %t on proposal %d", voter, support, proposalID)
	return nil
}

// Tally returns the yes/no counts for a proposal.
func (m *DAOManager) Tally(ctx context.Context, proposalID int64) (domain.VoteTally, error) {
	if _, err := m.getProposal(ctx, proposalID); err != nil {
		return domain.VoteTally{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var tally domain.VoteTally
	for _, support := range m.votes[proposalID] {
		if support {
			tally.Yes++
		} else {
			tally.No++
		}
	}
	return tally, nil
}

// Execute finalizes an active proposal: a yes-majority moves it to
// EXECUTED, anything else to REJECTED.
func (m *DAOManager) Execute(ctx context.Context, proposalID int64) (domain.ProposalStatus, error) {
	proposal, err := m.getProposal(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if proposal.Status != domain.ProposalActive {
		return "", ErrProposalNotActive
	}

	tally, err := m.Tally(ctx, proposalID)
	if err != nil {
		return "", err
	}

	if tally.Yes > tally.No {
		proposal.Status = domain.ProposalExecuted
	} else {
		proposal.Status = domain.ProposalRejected
	}
	if err := m.store.Update(ctx, proposal); err != nil {
		return "", fmt.Errorf("update proposal %d: %w", proposalID, err)
	}

	observability.RecordProposalFinished(string(proposal.Status))
	m.logger.Printf("dao: proposal %d finalized as %s (yes=%d no=%d)", proposalID, proposal.Status, tally.Yes, tally.No)
	return proposal.Status, nil
}

// List returns all proposals in insertion order.
func (m *DAOManager) List(ctx context.Context) ([]*domain.GovernanceProposal, error) {
	return m.store.List(ctx)
}

func (m *DAOManager) getProposal(ctx context.Context, proposalID int64) (*domain.GovernanceProposal, error) {
	proposal, err := m.store.GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("load proposal %d: %w", proposalID, err)
	}
	return proposal, nil
}
