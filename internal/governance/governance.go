// Package governance provides the pre-approval gate consulted before an
// order may be submitted on-chain. The shipped implementation is an
// in-process simulation: proposals are tracked and approval is granted
// immediately. Real quorum collection is out of scope; the orchestrator
// depends only on the Gate capability so a true voting collaborator can
// be substituted without touching it.
package governance

import (
	"context"

	"trustflow/internal/domain"
)

// Gate is the two-method pre-approval capability the orchestrator
// consumes.
type Gate interface {
	// Propose creates a governance proposal tied to an order.
	Propose(ctx context.Context, orderID int64, title, proposer string) (*domain.GovernanceProposal, error)

	// SimulateApproval flips the order's proposal to approved. In the
	// simulation this is unconditional.
	SimulateApproval(ctx context.Context, orderID int64) error
}
