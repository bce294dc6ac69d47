package domain

// OrderStatus represents the lifecycle state of a limit order.
type OrderStatus string

const (
	StatusCreated            OrderStatus = "CREATED"
	StatusApprovalPending    OrderStatus = "APPROVAL_PENDING"
	StatusApproved           OrderStatus = "APPROVED"
	StatusGovernancePending  OrderStatus = "GOVERNANCE_PENDING"
	StatusGovernanceApproved OrderStatus = "GOVERNANCE_APPROVED"
	StatusOnchainSubmitted   OrderStatus = "ONCHAIN_SUBMITTED"
	StatusExecuted           OrderStatus = "EXECUTED"
	StatusFailedOnchain      OrderStatus = "FAILED_ONCHAIN"
	StatusCanceled           OrderStatus = "CANCELED"
)

// String returns the string representation of OrderStatus.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusApprovalPending, StatusApproved,
		StatusGovernancePending, StatusGovernanceApproved,
		StatusOnchainSubmitted, StatusExecuted, StatusFailedOnchain,
		StatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusExecuted || s == StatusFailedOnchain || s == StatusCanceled
}

// legalEdges enumerates the allowed forward transitions of the order
// state machine. CANCELED is handled separately: it is reachable from
// any non-terminal state.
var legalEdges = map[OrderStatus][]OrderStatus{
	StatusCreated:            {StatusApprovalPending, StatusApproved},
	StatusApprovalPending:    {StatusApproved},
	StatusApproved:           {StatusGovernancePending},
	StatusGovernancePending:  {StatusGovernanceApproved},
	StatusGovernanceApproved: {StatusOnchainSubmitted, StatusFailedOnchain},
	StatusOnchainSubmitted:   {StatusExecuted, StatusFailedOnchain},
}

// CanTransition reports whether moving from -> to is a legal edge of the
// order state machine. Terminal states admit no outgoing edges.
func CanTransition(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusCanceled {
		return true
	}
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RuleFinding is an advisory issue reported by the rule checker.
// Findings never block a lifecycle transition.
type RuleFinding struct {
	Severity string `json:"severity"` // "info" | "warning" | "critical"
	Message  string `json:"message"`
}

// Order represents a user's intent to exchange Amount of FromToken for
// ToToken at Price. Orders are owned by the order store and mutated only
// through orchestrator methods.
type Order struct {
	ID               int64         `json:"id"`
	FromToken        string        `json:"from_token"`
	ToToken          string        `json:"to_token"`
	FromTokenAddress string        `json:"from_token_address"`
	ToTokenAddress   string        `json:"to_token_address"`
	Amount           float64       `json:"amount"` // human units of FromToken
	Price            float64       `json:"price"`  // quote currency per base unit
	Wallet           string        `json:"wallet"`
	SourceCode       string        `json:"source_code"` // generated text, advisory only
	Status           OrderStatus   `json:"status"`
	CreatedAt        int64         `json:"created_at"` // unix seconds
	CanceledAt       int64         `json:"canceled_at,omitempty"`
	RuleFindings     []RuleFinding `json:"rule_findings,omitempty"`

	// Optional references populated as the lifecycle progresses.
	ProposalID        int64  `json:"proposal_id,omitempty"`
	ApprovalTxHash    string `json:"onchain_approval_tx,omitempty"`
	SubmissionTxHash  string `json:"onchain_order_tx,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

// ExecutionResult is returned by order submission. Chain failures are
// reported through Status and Error, never as a raised error, so the
// stored order state and the returned result cannot disagree.
type ExecutionResult struct {
	OrderID int64       `json:"order_id"`
	Status  OrderStatus `json:"status"`
	TxHash  string      `json:"tx_hash,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CancellationResult is returned by order cancellation.
type CancellationResult struct {
	OrderID    int64       `json:"order_id"`
	Status     OrderStatus `json:"status"`
	CanceledAt int64       `json:"canceled_at"`
}
