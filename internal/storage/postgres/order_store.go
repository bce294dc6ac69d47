package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trustflow/internal/domain"
	"trustflow/internal/observability"
	"trustflow/internal/storage"
)

// OrderStore implements storage.OrderStore using PostgreSQL. Identifier
// assignment is delegated to a BIGSERIAL column, which preserves the
// monotonic-from-1 contract.
type OrderStore struct {
	pool *Pool
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderStore = (*OrderStore)(nil)

const orderColumns = `
	id, from_token, to_token, from_token_address, to_token_address,
	amount, price, wallet, source_code, status, created_at, canceled_at,
	rule_findings, proposal_id, approval_tx_hash, submission_tx_hash, failure_reason
`

// Insert assigns the next identifier and stores the order.
func (s *OrderStore) Insert(ctx context.Context, o *domain.Order) (int64, error) {
	if o == nil {
		return 0, storage.ErrInvalidInput
	}

	findings, err := json.Marshal(o.RuleFindings)
	if err != nil {
		return 0, fmt.Errorf("marshal rule findings: %w", err)
	}

	query := `
		INSERT INTO orders (
			from_token, to_token, from_token_address, to_token_address,
			amount, price, wallet, source_code, status, created_at, canceled_at,
			rule_findings, proposal_id, approval_tx_hash, submission_tx_hash, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`

	var id int64
	start := time.Now()
	err = s.pool.QueryRow(ctx, query,
		o.FromToken,
		o.ToToken,
		o.FromTokenAddress,
		o.ToTokenAddress,
		o.Amount,
		o.Price,
		o.Wallet,
		o.SourceCode,
		string(o.Status),
		o.CreatedAt,
		o.CanceledAt,
		findings,
		o.ProposalID,
		o.ApprovalTxHash,
		o.SubmissionTxHash,
		o.FailureReason,
	).Scan(&id)
	observability.RecordDBQuery("postgres", "insert_order", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	o.ID = id
	return id, nil
}

// GetByID retrieves an order by identifier. Returns ErrNotFound if it
// does not exist.
func (s *OrderStore) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	start := time.Now()
	row := s.pool.QueryRow(ctx, query, orderID)
	o, err := scanOrder(row)
	observability.RecordDBQuery("postgres", "get_order", time.Since(start).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// Update replaces the stored order. Returns ErrNotFound if the
// identifier was never issued.
func (s *OrderStore) Update(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return storage.ErrInvalidInput
	}

	findings, err := json.Marshal(o.RuleFindings)
	if err != nil {
		return fmt.Errorf("marshal rule findings: %w", err)
	}

	query := `
		UPDATE orders SET
			status = $2, canceled_at = $3, rule_findings = $4, proposal_id = $5,
			approval_tx_hash = $6, submission_tx_hash = $7, failure_reason = $8
		WHERE id = $1
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query,
		o.ID,
		string(o.Status),
		o.CanceledAt,
		findings,
		o.ProposalID,
		o.ApprovalTxHash,
		o.SubmissionTxHash,
		o.FailureReason,
	)
	observability.RecordDBQuery("postgres", "update_order", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns a snapshot of all orders in insertion order.
func (s *OrderStore) List(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY id ASC`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	observability.RecordDBQuery("postgres", "list_orders", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var result []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// scanOrder reads one order from a row.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o        domain.Order
		status   string
		findings []byte
	)
	err := row.Scan(
		&o.ID,
		&o.FromToken,
		&o.ToToken,
		&o.FromTokenAddress,
		&o.ToTokenAddress,
		&o.Amount,
		&o.Price,
		&o.Wallet,
		&o.SourceCode,
		&status,
		&o.CreatedAt,
		&o.CanceledAt,
		&findings,
		&o.ProposalID,
		&o.ApprovalTxHash,
		&o.SubmissionTxHash,
		&o.FailureReason,
	)
	if err != nil {
		return nil, err
	}

	o.Status = domain.OrderStatus(status)
	if len(findings) > 0 {
		if err := json.Unmarshal(findings, &o.RuleFindings); err != nil {
			return nil, fmt.Errorf("unmarshal rule findings: %w", err)
		}
	}
	return &o, nil
}
