// Package orchestrator lifecycle tests against in-memory stores and a
// fake chain backend.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"trustflow/internal/chain"
	"trustflow/internal/domain"
	"trustflow/internal/governance"
	"trustflow/internal/storage/memory"
)

// fakeChain satisfies Chain without touching a node. Failure modes are
// toggled per call site so tests can exercise each lifecycle branch.
type fakeChain struct {
	contractConfigured bool
	broadcastErr       error
	confirmErr         error
	failedReceipt      bool
	revertHash         common.Hash // this hash alone confirms as reverted

	broadcasts int
	confirms   int
}

func (f *fakeChain) Address() common.Address {
	return common.HexToAddress("0x1111111111111111111111111111111111111111")
}

func (f *fakeChain) ContractAddress() common.Address {
	if !f.contractConfigured {
		return common.HexToAddress(chain.SentinelContractAddress)
	}
	return common.HexToAddress("0x2222222222222222222222222222222222222222")
}

func (f *fakeChain) ContractUsable() bool {
	return f.contractConfigured
}

func (f *fakeChain) BuildApprovalTx(_ context.Context, token, spender common.Address, amount *big.Int) (*chain.TxIntent, error) {
	return &chain.TxIntent{To: token, GasLimit: chain.ApprovalGasLimit}, nil
}

func (f *fakeChain) BuildContractCallTx(_ context.Context, to common.Address, _ abi.ABI, _ string, _ []interface{}, value *big.Int, gasLimit uint64) (*chain.TxIntent, error) {
	return &chain.TxIntent{To: to, Value: value, GasLimit: gasLimit}, nil
}

func (f *fakeChain) SignAndBroadcast(_ context.Context, _ *chain.TxIntent) (common.Hash, error) {
	if f.broadcastErr != nil {
		return common.Hash{}, f.broadcastErr
	}
	f.broadcasts++
	return common.BigToHash(big.NewInt(int64(f.broadcasts))), nil
}

func (f *fakeChain) AwaitConfirmation(_ context.Context, txHash common.Hash, _ time.Duration) (*types.Receipt, error) {
	f.confirms++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	if f.failedReceipt || txHash == f.revertHash {
		return nil, fmt.Errorf("%w: tx %s reverted", chain.ErrExecutionFailed, txHash.Hex())
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

type testEnv struct {
	orch   *Orchestrator
	orders *memory.OrderStore
	events *memory.OrderEventStore
	chain  *fakeChain
	dao    *governance.DAOManager
}

func newTestEnv(fc *fakeChain) *testEnv {
	logger := log.New(io.Discard, "", 0)
	orders := memory.NewOrderStore()
	proposals := memory.NewProposalStore()
	events := memory.NewOrderEventStore()
	dao := governance.NewDAOManager(proposals, logger)

	orch := New(Options{
		OrderStore:    orders,
		ProposalStore: proposals,
		EventStore:    events,
		Chain:         fc,
		Gate:          dao,
		Logger:        logger,
	})
	return &testEnv{orch: orch, orders: orders, events: events, chain: fc, dao: dao}
}

func createOrder(t *testing.T, env *testEnv) *domain.Order {
	t.Helper()
	order, err := env.orch.CreateLimitOrder(context.Background(), "swap WETH for USDC", "WETH", "USDC", 1.5, 3000)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func TestCreateLimitOrder_ApprovalConfirmed(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)

	if order.ID != 1 {
		t.Errorf("expected order id 1, got %d", order.ID)
	}
	if order.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED after confirmed allowance, got %s", order.Status)
	}
	if order.ApprovalTxHash == "" {
		t.Error("expected approval tx hash to be recorded")
	}
	if order.FromTokenAddress != domain.WETHAddressSepolia {
		t.Errorf("expected WETH address resolved, got %s", order.FromTokenAddress)
	}
	if order.SourceCode == "" {
		t.Error("expected generated source code on the order")
	}

	stored, err := env.orch.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.StatusApproved {
		t.Errorf("stored status = %s, want APPROVED", stored.Status)
	}
}

func TestCreateLimitOrder_NoContractSkipsApproval(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: false})
	order := createOrder(t, env)

	if order.Status != domain.StatusCreated {
		t.Errorf("expected CREATED when contract is unconfigured, got %s", order.Status)
	}
	if order.ApprovalTxHash != "" {
		t.Errorf("expected no approval hash, got %s", order.ApprovalTxHash)
	}
	if env.chain.broadcasts != 0 {
		t.Errorf("expected no broadcast, got %d", env.chain.broadcasts)
	}
}

func TestCreateLimitOrder_BroadcastFailureLeavesCreated(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, broadcastErr: errors.New("nonce too low")}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	if order.Status != domain.StatusCreated {
		t.Errorf("expected CREATED after broadcast failure, got %s", order.Status)
	}
	if order.ApprovalTxHash != "" {
		t.Errorf("expected no approval hash after broadcast failure, got %s", order.ApprovalTxHash)
	}
}

func TestCreateLimitOrder_ConfirmTimeoutLeavesApprovalPending(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, confirmErr: chain.ErrConfirmationTimeout}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	if order.Status != domain.StatusApprovalPending {
		t.Errorf("expected APPROVAL_PENDING after confirmation timeout, got %s", order.Status)
	}
	if order.ApprovalTxHash == "" {
		t.Error("expected approval hash retained: the transaction may still land")
	}
}

func TestRetryApproval(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, broadcastErr: errors.New("rpc unavailable")}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	if order.Status != domain.StatusCreated {
		t.Fatalf("expected CREATED, got %s", order.Status)
	}

	fc.broadcastErr = nil
	retried, err := env.orch.RetryApproval(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("retry approval: %v", err)
	}
	if retried.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED after retry, got %s", retried.Status)
	}
}

func TestRetryApproval_PendingConfirmsStoredHash(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, confirmErr: chain.ErrConfirmationTimeout}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	if order.Status != domain.StatusApprovalPending {
		t.Fatalf("expected APPROVAL_PENDING, got %s", order.Status)
	}
	hash := order.ApprovalTxHash

	// The transaction landed after the original wait gave up.
	fc.confirmErr = nil
	retried, err := env.orch.RetryApproval(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("retry approval: %v", err)
	}
	if retried.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED after re-checking the stored hash, got %s", retried.Status)
	}
	if retried.ApprovalTxHash != hash {
		t.Errorf("approval hash changed from %s to %s without a rebroadcast", hash, retried.ApprovalTxHash)
	}
	if fc.broadcasts != 1 {
		t.Errorf("expected no new broadcast, got %d total", fc.broadcasts)
	}
}

func TestRetryApproval_PendingRevertedRebroadcasts(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, confirmErr: chain.ErrConfirmationTimeout}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	if order.Status != domain.StatusApprovalPending {
		t.Fatalf("expected APPROVAL_PENDING, got %s", order.Status)
	}
	staleHash := order.ApprovalTxHash

	// The original transaction reverted; the retry must replace it.
	fc.confirmErr = nil
	fc.revertHash = common.HexToHash(staleHash)
	retried, err := env.orch.RetryApproval(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("retry approval: %v", err)
	}
	if retried.Status != domain.StatusApproved {
		t.Errorf("expected APPROVED after replacement confirmed, got %s", retried.Status)
	}
	if retried.ApprovalTxHash == staleHash {
		t.Error("expected a fresh approval hash after the original reverted")
	}
	if fc.broadcasts != 2 {
		t.Errorf("expected a replacement broadcast, got %d total", fc.broadcasts)
	}

	stored, _ := env.orch.GetOrder(context.Background(), order.ID)
	if stored.ApprovalTxHash != retried.ApprovalTxHash {
		t.Errorf("stored hash %s != returned hash %s", stored.ApprovalTxHash, retried.ApprovalTxHash)
	}
}

func TestRetryApproval_PendingStillUnconfirmed(t *testing.T) {
	fc := &fakeChain{contractConfigured: true, confirmErr: chain.ErrConfirmationTimeout}
	env := newTestEnv(fc)
	order := createOrder(t, env)

	retried, err := env.orch.RetryApproval(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("retry approval: %v", err)
	}
	if retried.Status != domain.StatusApprovalPending {
		t.Errorf("expected APPROVAL_PENDING while the hash is unconfirmed, got %s", retried.Status)
	}
	if fc.broadcasts != 1 {
		t.Errorf("expected no new broadcast while pending, got %d total", fc.broadcasts)
	}
}

func TestRetryApproval_RejectedAfterApproved(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env) // APPROVED

	_, err := env.orch.RetryApproval(context.Background(), order.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestInitiateGovernanceApproval(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)

	proposal, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("governance approval: %v", err)
	}
	if proposal.OrderID != order.ID {
		t.Errorf("proposal order id = %d, want %d", proposal.OrderID, order.ID)
	}
	if proposal.Status != domain.ProposalApproved {
		t.Errorf("proposal status = %s, want APPROVED", proposal.Status)
	}

	stored, err := env.orch.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Status != domain.StatusGovernanceApproved {
		t.Errorf("order status = %s, want GOVERNANCE_APPROVED", stored.Status)
	}
	if stored.ProposalID != proposal.ID {
		t.Errorf("order proposal id = %d, want %d", stored.ProposalID, proposal.ID)
	}
}

func TestInitiateGovernanceApproval_RequiresApproved(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: false})
	order := createOrder(t, env) // stuck in CREATED

	_, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from CREATED, got %v", err)
	}
}

func TestSubmitAndExecute_Success(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)
	if _, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID); err != nil {
		t.Fatalf("governance approval: %v", err)
	}

	result, err := env.orch.SubmitAndExecute(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != domain.StatusExecuted {
		t.Errorf("result status = %s, want EXECUTED", result.Status)
	}
	if result.TxHash == "" {
		t.Error("expected submission tx hash in result")
	}
	if result.Error != "" {
		t.Errorf("expected empty error, got %q", result.Error)
	}

	stored, _ := env.orch.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.StatusExecuted {
		t.Errorf("stored status = %s, want EXECUTED", stored.Status)
	}
	if stored.SubmissionTxHash != result.TxHash {
		t.Errorf("stored tx hash %s != result tx hash %s", stored.SubmissionTxHash, result.TxHash)
	}
}

func TestSubmitAndExecute_BroadcastFailureReportedInResult(t *testing.T) {
	fc := &fakeChain{contractConfigured: true}
	env := newTestEnv(fc)
	order := createOrder(t, env)
	if _, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID); err != nil {
		t.Fatalf("governance approval: %v", err)
	}

	fc.broadcastErr = errors.New("insufficient funds for gas")
	result, err := env.orch.SubmitAndExecute(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("chain failure must travel in the result, got error: %v", err)
	}
	if result.Status != domain.StatusFailedOnchain {
		t.Errorf("result status = %s, want FAILED_ONCHAIN", result.Status)
	}
	if result.Error == "" {
		t.Error("expected failure reason in result")
	}

	stored, _ := env.orch.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.StatusFailedOnchain {
		t.Errorf("stored status = %s, want FAILED_ONCHAIN", stored.Status)
	}
	if stored.FailureReason == "" {
		t.Error("expected failure reason persisted on the order")
	}
}

func TestSubmitAndExecute_RevertedReceipt(t *testing.T) {
	fc := &fakeChain{contractConfigured: true}
	env := newTestEnv(fc)
	order := createOrder(t, env)
	if _, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID); err != nil {
		t.Fatalf("governance approval: %v", err)
	}

	fc.failedReceipt = true
	result, err := env.orch.SubmitAndExecute(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.Status != domain.StatusFailedOnchain {
		t.Errorf("result status = %s, want FAILED_ONCHAIN", result.Status)
	}
	if result.TxHash == "" {
		t.Error("expected broadcast hash retained in the failure result")
	}
}

func TestSubmitAndExecute_RequiresGovernanceApproved(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env) // APPROVED, not GOVERNANCE_APPROVED

	_, err := env.orch.SubmitAndExecute(context.Background(), order.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)

	result, err := env.orch.Cancel(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.Status != domain.StatusCanceled {
		t.Errorf("result status = %s, want CANCELED", result.Status)
	}
	if result.CanceledAt == 0 {
		t.Error("expected cancellation timestamp")
	}

	// Terminal: a second cancel is rejected.
	if _, err := env.orch.Cancel(context.Background(), order.ID); !errors.Is(err, ErrOrderTerminal) {
		t.Errorf("expected ErrOrderTerminal on double cancel, got %v", err)
	}
}

func TestCancel_ExecutedOrderRejected(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)
	if _, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID); err != nil {
		t.Fatalf("governance approval: %v", err)
	}
	if _, err := env.orch.SubmitAndExecute(context.Background(), order.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := env.orch.Cancel(context.Background(), order.ID)
	if !errors.Is(err, ErrOrderTerminal) {
		t.Errorf("expected ErrOrderTerminal for executed order, got %v", err)
	}
}

func TestGetOrder_Unknown(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})

	_, err := env.orch.GetOrder(context.Background(), 42)
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestListOrders_MonotonicIDs(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	first := createOrder(t, env)
	second := createOrder(t, env)

	if first.ID != 1 || second.ID != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", first.ID, second.ID)
	}

	orders, err := env.orch.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != 1 || orders[1].ID != 2 {
		t.Errorf("expected insertion order, got ids %d, %d", orders[0].ID, orders[1].ID)
	}

	// Reads are idempotent: no mutation between calls means equal
	// snapshots.
	again, err := env.orch.ListOrders(context.Background())
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(again) != len(orders) {
		t.Fatalf("snapshot sizes differ: %d vs %d", len(again), len(orders))
	}
	for i := range orders {
		if !reflect.DeepEqual(orders[i], again[i]) {
			t.Errorf("snapshot entry %d differs between reads", i)
		}
	}
}

func TestOrderEvents_JournalCoversLifecycle(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)
	if _, err := env.orch.InitiateGovernanceApproval(context.Background(), order.ID); err != nil {
		t.Fatalf("governance approval: %v", err)
	}
	if _, err := env.orch.SubmitAndExecute(context.Background(), order.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	events, err := env.orch.OrderEvents(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("order events: %v", err)
	}

	// created, approval broadcast, approval confirmed, governance
	// pending, governance approved, submission broadcast, executed.
	if len(events) != 7 {
		t.Fatalf("expected 7 journal entries, got %d", len(events))
	}
	if events[0].ToStatus != domain.StatusCreated {
		t.Errorf("first event to-status = %s, want CREATED", events[0].ToStatus)
	}
	last := events[len(events)-1]
	if last.ToStatus != domain.StatusExecuted {
		t.Errorf("last event to-status = %s, want EXECUTED", last.ToStatus)
	}
	for _, e := range events {
		if e.EventID == "" {
			t.Error("expected event id on every journal entry")
		}
		if e.OrderID != order.ID {
			t.Errorf("event order id = %d, want %d", e.OrderID, order.ID)
		}
	}
}

func TestOrderAudit(t *testing.T) {
	env := newTestEnv(&fakeChain{contractConfigured: true})
	order := createOrder(t, env)

	audit, err := env.orch.OrderAudit(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if audit.OrderID != order.ID {
		t.Errorf("audit order id = %d, want %d", audit.OrderID, order.ID)
	}
	if len(audit.RuleFindings) == 0 {
		t.Error("expected at least one finding (clean scan reports an info entry)")
	}

	stored, _ := env.orch.GetOrder(context.Background(), order.ID)
	if len(stored.RuleFindings) != len(audit.RuleFindings) {
		t.Errorf("stored findings = %d, want %d", len(stored.RuleFindings), len(audit.RuleFindings))
	}
}
