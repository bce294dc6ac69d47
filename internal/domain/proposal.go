package domain

// ProposalStatus represents the state of a governance proposal.
type ProposalStatus string

const (
	ProposalActive   ProposalStatus = "ACTIVE"
	ProposalApproved ProposalStatus = "APPROVED"
	ProposalExecuted ProposalStatus = "EXECUTED"
	ProposalRejected ProposalStatus = "REJECTED"
)

// String returns the string representation of ProposalStatus.
func (s ProposalStatus) String() string {
	return string(s)
}

// GovernanceProposal represents a pending pre-approval request tied 1:1
// to an order. Proposals are never deleted.
type GovernanceProposal struct {
	ID          int64          `json:"id"`
	OrderID     int64          `json:"order_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Proposer    string         `json:"proposer"`
	Status      ProposalStatus `json:"status"`
	CreatedAt   int64          `json:"created_at"` // unix seconds
}

// VoteTally holds the yes/no counts for a proposal.
type VoteTally struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}
