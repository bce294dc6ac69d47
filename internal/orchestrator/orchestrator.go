// Package orchestrator drives the limit order lifecycle:
// creation → token approval → governance pre-approval → on-chain
// submission/execution, with cancellation from any non-terminal state.
// It is the single writer of order state; every transition goes through
// its methods so the state machine stays authoritative.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"trustflow/internal/chain"
	"trustflow/internal/contractgen"
	"trustflow/internal/domain"
	"trustflow/internal/governance"
	"trustflow/internal/observability"
	"trustflow/internal/rules"
	"trustflow/internal/storage"
)

// Orchestrator errors.
var (
	// ErrOrderNotFound is returned for unknown order identifiers.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderTerminal is returned when an operation targets an order
	// in EXECUTED, FAILED_ONCHAIN, or CANCELED.
	ErrOrderTerminal = errors.New("order is in a terminal state")

	// ErrInvalidTransition is returned when an operation would move an
	// order along an edge the state machine does not define.
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// Chain is the transaction submission capability the orchestrator
// consumes. *chain.Client satisfies it; tests substitute a fake.
type Chain interface {
	Address() common.Address
	ContractAddress() common.Address
	ContractUsable() bool
	BuildApprovalTx(ctx context.Context, token, spender common.Address, amount *big.Int) (*chain.TxIntent, error)
	BuildContractCallTx(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args []interface{}, value *big.Int, gasLimit uint64) (*chain.TxIntent, error)
	SignAndBroadcast(ctx context.Context, intent *chain.TxIntent) (common.Hash, error)
	AwaitConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// EventSink receives order transition events for live fan-out.
type EventSink interface {
	Publish(e domain.OrderEvent)
}

// Orchestrator coordinates order lifecycle execution.
type Orchestrator struct {
	orders    storage.OrderStore
	proposals storage.ProposalStore
	events    storage.OrderEventStore

	chain     Chain
	gate      governance.Gate
	generator contractgen.Generator
	checker   rules.Checker
	sink      EventSink

	approvalTimeout time.Duration
	submitTimeout   time.Duration
	logger          *log.Logger
}

// Options for creating an Orchestrator.
type Options struct {
	// Required stores
	OrderStore    storage.OrderStore
	ProposalStore storage.ProposalStore
	EventStore    storage.OrderEventStore

	// Required collaborators
	Chain Chain
	Gate  governance.Gate

	// Optional collaborators
	Generator contractgen.Generator
	Checker   rules.Checker
	Sink      EventSink

	// Confirmation bounds; zero selects the chain package defaults.
	ApprovalTimeout time.Duration
	SubmitTimeout   time.Duration

	Logger *log.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		orders:          opts.OrderStore,
		proposals:       opts.ProposalStore,
		events:          opts.EventStore,
		chain:           opts.Chain,
		gate:            opts.Gate,
		generator:       opts.Generator,
		checker:         opts.Checker,
		sink:            opts.Sink,
		approvalTimeout: opts.ApprovalTimeout,
		submitTimeout:   opts.SubmitTimeout,
		logger:          opts.Logger,
	}
	if o.generator == nil {
		o.generator = contractgen.NewTemplateGenerator()
	}
	if o.checker == nil {
		o.checker = rules.NewStaticChecker()
	}
	if o.approvalTimeout == 0 {
		o.approvalTimeout = chain.ApprovalConfirmTimeout
	}
	if o.submitTimeout == 0 {
		o.submitTimeout = chain.DefaultConfirmTimeout
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	return o
}

// CreateLimitOrder registers a new order and synchronously attempts the
// ERC-20 allowance transaction for its sell side. Approval failure is
// non-fatal: the order is still created and the failure is surfaced via
// the stored state, so a caller may retry approval later.
func (o *Orchestrator) CreateLimitOrder(ctx context.Context, prompt, fromToken, toToken string, amount, price float64) (*domain.Order, error) {
	from := domain.ResolveToken(fromToken)
	to := domain.ResolveToken(toToken)

	source, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		// Generated text is advisory; a generator outage must not block
		// order creation.
		o.logger.Printf("orchestrator: contract generation failed, storing order without source: %v", err)
		source = ""
	}

	order := &domain.Order{
		FromToken:        from.Symbol,
		ToToken:          to.Symbol,
		FromTokenAddress: from.Address,
		ToTokenAddress:   to.Address,
		Amount:           amount,
		Price:            price,
		Wallet:           o.chain.Address().Hex(),
		SourceCode:       source,
		Status:           domain.StatusCreated,
		CreatedAt:        time.Now().Unix(),
	}

	id, err := o.orders.Insert(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}
	o.journal(order, "", domain.StatusCreated, "", "order created")
	observability.RecordOrderCreated()
	o.logger.Printf("orchestrator: order %d created: %g %s -> %s @ %.4f", id, amount, from.Symbol, to.Symbol, price)

	o.attemptApproval(ctx, order, from)
	return order, nil
}

// RetryApproval recovers an order whose allowance transaction did not
// complete. A CREATED order (build or broadcast failed) gets a fresh
// approval attempt. An APPROVAL_PENDING order re-awaits its recorded
// transaction: a successful receipt advances it to APPROVED, a reverted
// receipt triggers a fresh broadcast under a new hash, and another
// timeout leaves it pending for a later retry.
func (o *Orchestrator) RetryApproval(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case domain.StatusCreated:
		o.attemptApproval(ctx, order, domain.ResolveToken(order.FromToken))
	case domain.StatusApprovalPending:
		o.recoverApproval(ctx, order)
	default:
		return nil, fmt.Errorf("%w: approval retry requires CREATED or APPROVAL_PENDING, order %d is %s", ErrInvalidTransition, orderID, order.Status)
	}
	return order, nil
}

// recoverApproval re-awaits the allowance transaction recorded on an
// APPROVAL_PENDING order. A reverted receipt means the transaction
// definitively failed, so a replacement approval is broadcast and the
// new hash recorded; a timeout keeps the order pending since the
// original transaction may still land.
func (o *Orchestrator) recoverApproval(ctx context.Context, order *domain.Order) {
	txHash := common.HexToHash(order.ApprovalTxHash)
	_, err := o.chain.AwaitConfirmation(ctx, txHash, o.approvalTimeout)
	if err == nil {
		if err := o.transition(ctx, order, domain.StatusApproved, order.ApprovalTxHash, "approval confirmed"); err != nil {
			o.logger.Printf("orchestrator: order %d: %v", order.ID, err)
		}
		return
	}
	if !errors.Is(err, chain.ErrExecutionFailed) {
		o.logger.Printf("orchestrator: order %d: approval %s still unconfirmed: %v", order.ID, order.ApprovalTxHash, err)
		return
	}

	o.logger.Printf("orchestrator: order %d: approval %s reverted, broadcasting replacement", order.ID, order.ApprovalTxHash)
	from := domain.ResolveToken(order.FromToken)
	amountUnits := domain.ToBaseUnits(order.Amount, from.Decimals)
	intent, err := o.chain.BuildApprovalTx(ctx, common.HexToAddress(from.Address), o.chain.ContractAddress(), amountUnits)
	if err != nil {
		o.logger.Printf("orchestrator: order %d: approval rebuild failed: %v", order.ID, err)
		return
	}
	newHash, err := o.chain.SignAndBroadcast(ctx, intent)
	if err != nil {
		o.logger.Printf("orchestrator: order %d: approval rebroadcast failed: %v", order.ID, err)
		return
	}

	order.ApprovalTxHash = newHash.Hex()
	if err := o.orders.Update(ctx, order); err != nil {
		o.logger.Printf("orchestrator: order %d: persist replacement approval hash: %v", order.ID, err)
		return
	}
	o.journal(order, domain.StatusApprovalPending, domain.StatusApprovalPending, newHash.Hex(), "approval rebroadcast")

	if _, err := o.chain.AwaitConfirmation(ctx, newHash, o.approvalTimeout); err != nil {
		o.logger.Printf("orchestrator: order %d: replacement approval confirmation failed: %v", order.ID, err)
		return
	}
	if err := o.transition(ctx, order, domain.StatusApproved, newHash.Hex(), "approval confirmed"); err != nil {
		o.logger.Printf("orchestrator: order %d: %v", order.ID, err)
	}
}

// attemptApproval submits approve(contract, amount) for the order's sell
// token. The order advances to APPROVAL_PENDING once the transaction is
// broadcast and to APPROVED once it confirms. Build or broadcast
// failures leave the order in CREATED with no approval hash; a
// confirmation failure after broadcast leaves it APPROVAL_PENDING with
// the hash recorded, since the transaction may still land and
// RetryApproval re-checks it.
func (o *Orchestrator) attemptApproval(ctx context.Context, order *domain.Order, from domain.TokenInfo) {
	if !o.chain.ContractUsable() {
		o.logger.Printf("orchestrator: order %d: skipping approval, limit order contract address not configured", order.ID)
		return
	}

	amountUnits := domain.ToBaseUnits(order.Amount, from.Decimals)
	intent, err := o.chain.BuildApprovalTx(ctx, common.HexToAddress(from.Address), o.chain.ContractAddress(), amountUnits)
	if err != nil {
		o.logger.Printf("orchestrator: order %d: approval build failed: %v", order.ID, err)
		return
	}

	txHash, err := o.chain.SignAndBroadcast(ctx, intent)
	if err != nil {
		o.logger.Printf("orchestrator: order %d: approval broadcast failed: %v", order.ID, err)
		return
	}

	order.ApprovalTxHash = txHash.Hex()
	if err := o.transition(ctx, order, domain.StatusApprovalPending, txHash.Hex(), "approval broadcast"); err != nil {
		o.logger.Printf("orchestrator: order %d: %v", order.ID, err)
		return
	}

	if _, err := o.chain.AwaitConfirmation(ctx, txHash, o.approvalTimeout); err != nil {
		o.logger.Printf("orchestrator: order %d: approval confirmation failed: %v", order.ID, err)
		return
	}

	if err := o.transition(ctx, order, domain.StatusApproved, txHash.Hex(), "approval confirmed"); err != nil {
		o.logger.Printf("orchestrator: order %d: %v", order.ID, err)
	}
}

// InitiateGovernanceApproval creates a governance proposal for the order
// and immediately runs the simulated approval, moving the order through
// GOVERNANCE_PENDING to GOVERNANCE_APPROVED.
func (o *Orchestrator) InitiateGovernanceApproval(ctx context.Context, orderID int64) (*domain.GovernanceProposal, error) {
	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(order.Status, domain.StatusGovernancePending) {
		return nil, fmt.Errorf("%w: %s -> %s for order %d", ErrInvalidTransition, order.Status, domain.StatusGovernancePending, orderID)
	}

	title := fmt.Sprintf("Approve Limit Order #%d (%g %s)", order.ID, order.Amount, order.FromToken)
	proposal, err := o.gate.Propose(ctx, order.ID, title, order.Wallet)
	if err != nil {
		return nil, fmt.Errorf("create governance proposal: %w", err)
	}

	order.ProposalID = proposal.ID
	if err := o.transition(ctx, order, domain.StatusGovernancePending, "", fmt.Sprintf("proposal %d created", proposal.ID)); err != nil {
		return nil, err
	}

	if err := o.gate.SimulateApproval(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("simulate governance approval: %w", err)
	}
	if err := o.transition(ctx, order, domain.StatusGovernanceApproved, "", "governance approved"); err != nil {
		return nil, err
	}

	proposal.Status = domain.ProposalApproved
	return proposal, nil
}

// SubmitAndExecute builds, signs, broadcasts, and awaits confirmation of
// the order's on-chain submission. Chain failures are reported through
// the result's status and error fields, never raised, so the stored
// order state and the returned result cannot disagree.
func (o *Orchestrator) SubmitAndExecute(ctx context.Context, orderID int64) (*domain.ExecutionResult, error) {
	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(order.Status, domain.StatusOnchainSubmitted) {
		return nil, fmt.Errorf("%w: %s -> %s for order %d", ErrInvalidTransition, order.Status, domain.StatusOnchainSubmitted, orderID)
	}

	if !o.chain.ContractUsable() {
		return o.failOnchain(ctx, order, "limit order contract address not configured"), nil
	}

	from := domain.ResolveToken(order.FromToken)
	amountUnits := domain.ToBaseUnits(order.Amount, from.Decimals)
	// Price is quoted with 18 decimals like the native currency.
	priceUnits := domain.ToBaseUnits(order.Price, 18)

	intent, err := o.chain.BuildContractCallTx(ctx,
		o.chain.ContractAddress(),
		chain.LimitOrderABI(),
		"submitLimitOrder",
		[]interface{}{
			common.HexToAddress(order.FromTokenAddress),
			common.HexToAddress(order.ToTokenAddress),
			amountUnits,
			priceUnits,
			o.chain.Address(),
		},
		nil,
		chain.SubmitGasLimit,
	)
	if err != nil {
		return o.failOnchain(ctx, order, fmt.Sprintf("build submission: %v", err)), nil
	}

	txHash, err := o.chain.SignAndBroadcast(ctx, intent)
	if err != nil {
		return o.failOnchain(ctx, order, fmt.Sprintf("broadcast submission: %v", err)), nil
	}

	order.SubmissionTxHash = txHash.Hex()
	if err := o.transition(ctx, order, domain.StatusOnchainSubmitted, txHash.Hex(), "submission broadcast"); err != nil {
		return nil, err
	}

	if _, err := o.chain.AwaitConfirmation(ctx, txHash, o.submitTimeout); err != nil {
		return o.failOnchain(ctx, order, fmt.Sprintf("confirmation: %v", err)), nil
	}

	if err := o.transition(ctx, order, domain.StatusExecuted, txHash.Hex(), "submission confirmed"); err != nil {
		return nil, err
	}

	o.logger.Printf("orchestrator: order %d executed, tx %s", order.ID, txHash.Hex())
	return &domain.ExecutionResult{
		OrderID: order.ID,
		Status:  domain.StatusExecuted,
		TxHash:  txHash.Hex(),
	}, nil
}

// Cancel moves an order to CANCELED from any non-terminal state and
// stamps the cancellation time. Canceling an already-settled order
// (EXECUTED, FAILED_ONCHAIN, or CANCELED) returns ErrOrderTerminal:
// terminal states admit no further transitions.
func (o *Orchestrator) Cancel(ctx context.Context, orderID int64) (*domain.CancellationResult, error) {
	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, orderID, order.Status)
	}

	order.CanceledAt = time.Now().Unix()
	if err := o.transition(ctx, order, domain.StatusCanceled, "", "order canceled"); err != nil {
		return nil, err
	}

	o.logger.Printf("orchestrator: order %d canceled", orderID)
	return &domain.CancellationResult{
		OrderID:    order.ID,
		Status:     domain.StatusCanceled,
		CanceledAt: order.CanceledAt,
	}, nil
}

// ListOrders returns a read-only snapshot of all orders in insertion
// order.
func (o *Orchestrator) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return o.orders.List(ctx)
}

// GetOrder retrieves one order.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return o.getOrder(ctx, orderID)
}

// AuditResult bundles an order's source text with fresh rule findings.
type AuditResult struct {
	OrderID      int64                `json:"order_id"`
	SourceCode   string               `json:"source_code"`
	RuleFindings []domain.RuleFinding `json:"rule_findings"`
}

// OrderAudit re-runs the rule checker over the order's generated source
// and stores the findings. Findings are advisory and never affect the
// order's status.
func (o *Orchestrator) OrderAudit(ctx context.Context, orderID int64) (*AuditResult, error) {
	order, err := o.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	findings := o.checker.Check(order.SourceCode)
	order.RuleFindings = findings
	if err := o.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("store rule findings: %w", err)
	}

	return &AuditResult{
		OrderID:      order.ID,
		SourceCode:   order.SourceCode,
		RuleFindings: findings,
	}, nil
}

// OrderEvents returns the journaled transition history of an order.
func (o *Orchestrator) OrderEvents(ctx context.Context, orderID int64) ([]*domain.OrderEvent, error) {
	if _, err := o.getOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return o.events.GetByOrderID(ctx, orderID)
}

// failOnchain marks the order FAILED_ONCHAIN and returns the failure
// result. The reason travels in the result, not as an error.
func (o *Orchestrator) failOnchain(ctx context.Context, order *domain.Order, reason string) *domain.ExecutionResult {
	order.FailureReason = reason
	if err := o.transition(ctx, order, domain.StatusFailedOnchain, order.SubmissionTxHash, reason); err != nil {
		o.logger.Printf("orchestrator: order %d: %v", order.ID, err)
	}
	o.logger.Printf("orchestrator: order %d failed on-chain: %s", order.ID, reason)
	return &domain.ExecutionResult{
		OrderID: order.ID,
		Status:  domain.StatusFailedOnchain,
		TxHash:  order.SubmissionTxHash,
		Error:   reason,
	}
}

// transition validates the edge, persists the new status, and journals
// the event.
func (o *Orchestrator) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus, txHash, detail string) error {
	if !domain.CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s for order %d", ErrInvalidTransition, order.Status, to, order.ID)
	}

	from := order.Status
	order.Status = to
	if err := o.orders.Update(ctx, order); err != nil {
		order.Status = from
		return fmt.Errorf("persist transition %s -> %s: %w", from, to, err)
	}

	o.journal(order, from, to, txHash, detail)
	observability.RecordOrderTransition(string(to))
	o.logger.Printf("orchestrator: order %d: %s -> %s (%s)", order.ID, from, to, detail)
	return nil
}

// journal appends the transition to the event store and publishes it to
// the sink. Journal failures are logged, not propagated: the order
// store remains the source of truth.
func (o *Orchestrator) journal(order *domain.Order, from, to domain.OrderStatus, txHash, detail string) {
	event := domain.OrderEvent{
		EventID:    uuid.New().String(),
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   to,
		TxHash:     txHash,
		Detail:     detail,
		OccurredAt: time.Now().UnixMilli(),
	}

	if o.events != nil {
		if err := o.events.Append(context.Background(), &event); err != nil {
			o.logger.Printf("orchestrator: journal append failed for order %d: %v", order.ID, err)
		}
	}
	if o.sink != nil {
		o.sink.Publish(event)
	}
}

// getOrder maps storage.ErrNotFound to ErrOrderNotFound.
func (o *Orchestrator) getOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return order, nil
}
