package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trustflow/internal/domain"
	"trustflow/internal/observability"
	"trustflow/internal/storage"
)

// ProposalStore implements storage.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *Pool
}

// NewProposalStore creates a new ProposalStore.
func NewProposalStore(pool *Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

const proposalColumns = `id, order_id, title, description, proposer, status, created_at`

// Insert stores a proposal. Returns ErrDuplicateKey if the identifier
// exists.
func (s *ProposalStore) Insert(ctx context.Context, p *domain.GovernanceProposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO governance_proposals (id, order_id, title, description, proposer, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.Title,
		p.Description,
		p.Proposer,
		string(p.Status),
		p.CreatedAt,
	)
	observability.RecordDBQuery("postgres", "insert_proposal", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) GetByID(ctx context.Context, proposalID int64) (*domain.GovernanceProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM governance_proposals WHERE id = $1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, proposalID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal by id: %w", err)
	}
	return p, nil
}

// GetByOrderID retrieves the proposal tied to an order.
func (s *ProposalStore) GetByOrderID(ctx context.Context, orderID int64) (*domain.GovernanceProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM governance_proposals WHERE order_id = $1 ORDER BY id ASC LIMIT 1`

	p, err := scanProposal(s.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get proposal by order id: %w", err)
	}
	return p, nil
}

// Update replaces the stored proposal. Returns ErrNotFound if the
// identifier does not exist.
func (s *ProposalStore) Update(ctx context.Context, p *domain.GovernanceProposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	query := `UPDATE governance_proposals SET status = $2 WHERE id = $1`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, p.ID, string(p.Status))
	observability.RecordDBQuery("postgres", "update_proposal", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns a snapshot of all proposals in insertion order.
func (s *ProposalStore) List(ctx context.Context) ([]*domain.GovernanceProposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM governance_proposals ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var result []*domain.GovernanceProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// scanProposal reads one proposal from a row.
func scanProposal(row pgx.Row) (*domain.GovernanceProposal, error) {
	var (
		p      domain.GovernanceProposal
		status string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Title, &p.Description, &p.Proposer, &status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = domain.ProposalStatus(status)
	return &p, nil
}
