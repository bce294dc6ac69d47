// Package chain holds the single network connection and signing identity
// used for all ledger interaction: fee estimation, transaction building,
// signing, broadcast, and confirmation waits. It has no knowledge of
// orders.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"

	"trustflow/internal/observability"
)

// Default configuration values.
const (
	// DefaultConfirmTimeout bounds the receipt wait for order submissions.
	DefaultConfirmTimeout = 300 * time.Second

	// ApprovalConfirmTimeout bounds the receipt wait for allowance
	// transactions.
	ApprovalConfirmTimeout = 180 * time.Second

	// ApprovalGasLimit is the fixed gas budget for ERC-20 approvals.
	ApprovalGasLimit = 200000

	// SubmitGasLimit is the fixed gas budget for limit order submissions.
	SubmitGasLimit = 500000

	pollIntervalLocal  = 500 * time.Millisecond
	pollIntervalRemote = 2 * time.Second
)

// SentinelContractAddress is substituted when the configured limit order
// contract address is missing or invalid. The client still constructs so
// read-only parts of the system keep working, but state-changing calls
// against the contract return ErrContractUnavailable.
const SentinelContractAddress = "0x000000000000000000000000000000000000dEaD"

// Backend is the subset of JSON-RPC chain access the client depends on.
// *ethclient.Client satisfies it; tests substitute a fake.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// FeeQuote is an ephemeral per-attempt gas pricing decision: either a
// modern tip/fee-cap pair or a single legacy gas price.
type FeeQuote struct {
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int // set only for legacy pricing
}

// Legacy reports whether the quote uses legacy single gas pricing.
func (q FeeQuote) Legacy() bool {
	return q.GasPrice != nil
}

// ceiling returns the worst-case price per gas unit for cost estimation.
func (q FeeQuote) ceiling() *big.Int {
	if q.Legacy() {
		return q.GasPrice
	}
	return q.GasFeeCap
}

// TxIntent is a built, unsigned transaction. The nonce is assigned at
// broadcast time inside the client's critical section, never at build
// time, so a failed build or broadcast cannot leave a nonce gap.
type TxIntent struct {
	To       common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
	Fees     FeeQuote
}

// Client holds one network connection and one signing identity.
type Client struct {
	backend      Backend
	key          *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	signer       types.Signer
	contractAddr common.Address
	contractOK   bool
	pollInterval time.Duration
	logger       *log.Logger

	// mu serializes nonce assignment across concurrent submissions.
	mu    sync.Mutex
	nonce uint64

	closer io.Closer // set when the backend owns a connection
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the trace logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithPollInterval overrides the receipt poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// New dials the RPC endpoint and constructs the client. Connectivity and
// credential failures are fatal: the returned error means the client must
// not be used. A missing or invalid contract address is the one
// documented exception; it degrades to SentinelContractAddress.
func New(ctx context.Context, rpcURL, privateKeyHex, contractAddress string, opts ...Option) (*Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc endpoint is required")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc endpoint: %w", err)
	}

	c, err := NewFromBackend(ctx, eth, privateKeyHex, contractAddress, opts...)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = closerFunc(func() error { eth.Close(); return nil })

	if c.pollInterval == 0 {
		c.pollInterval = pollIntervalRemote
		if isLoopback(rpcURL) {
			c.pollInterval = pollIntervalLocal
		}
	}
	return c, nil
}

// NewFromBackend constructs the client over an existing backend. Used by
// New and by tests.
func NewFromBackend(ctx context.Context, backend Backend, privateKeyHex, contractAddress string, opts ...Option) (*Client, error) {
	if privateKeyHex == "" {
		return nil, fmt.Errorf("signing key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read chain id: %w", err)
	}

	c := &Client{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pollInterval == 0 {
		c.pollInterval = pollIntervalRemote
	}

	if common.IsHexAddress(contractAddress) {
		c.contractAddr = common.HexToAddress(contractAddress)
		c.contractOK = true
	} else {
		c.contractAddr = common.HexToAddress(SentinelContractAddress)
		c.logger.Printf("chain: contract address %q is invalid or missing, degrading to sentinel %s", contractAddress, SentinelContractAddress)
	}

	nonce, err := backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("read account nonce: %w", err)
	}
	c.nonce = nonce

	c.logger.Printf("chain: identity %s ready on chain %s, starting nonce %d", c.address.Hex(), chainID, nonce)
	return c, nil
}

// Address returns the signing identity's address.
func (c *Client) Address() common.Address {
	return c.address
}

// ContractAddress returns the configured limit order contract address,
// which may be the sentinel.
func (c *Client) ContractAddress() common.Address {
	return c.contractAddr
}

// ContractUsable reports whether the contract address is validly
// configured rather than degraded to the sentinel.
func (c *Client) ContractUsable() bool {
	return c.contractOK
}

// Close releases the underlying connection if the client owns one.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer.Close()
	}
}

// EstimateFees derives a tip/fee-cap pair from the latest block's base
// fee: tip fixed at 1 gwei, fee cap = 2x base fee + tip. On any read
// failure, or on pre-London chains without a base fee, it degrades to a
// legacy gas price quote. It never returns an error.
func (c *Client) EstimateFees(ctx context.Context) FeeQuote {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err == nil && header.BaseFee != nil {
		tip := big.NewInt(params.GWei)
		feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return FeeQuote{GasTipCap: tip, GasFeeCap: feeCap}
	}

	observability.RecordFeeFallback()
	gasPrice, gerr := c.backend.SuggestGasPrice(ctx)
	if gerr != nil {
		// Last resort floor so the quote is still usable.
		c.logger.Printf("chain: fee estimation degraded twice (%v, %v), using 1 gwei legacy floor", err, gerr)
		gasPrice = big.NewInt(params.GWei)
	} else {
		c.logger.Printf("chain: base fee unavailable (%v), falling back to legacy gas price %s", err, gasPrice)
	}
	return FeeQuote{GasPrice: gasPrice}
}

// BuildApprovalTx builds an ERC-20 approve(spender, amount) intent
// against the given token with the fixed approval gas budget.
func (c *Client) BuildApprovalTx(ctx context.Context, token, spender common.Address, amount *big.Int) (*TxIntent, error) {
	data, err := ERC20ABI().Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return &TxIntent{
		To:       token,
		Value:    big.NewInt(0),
		Data:     data,
		GasLimit: ApprovalGasLimit,
		Fees:     c.EstimateFees(ctx),
	}, nil
}

// BuildContractCallTx builds an intent for an arbitrary state-changing
// contract call.
func (c *Client) BuildContractCallTx(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args []interface{}, value *big.Int, gasLimit uint64) (*TxIntent, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return &TxIntent{
		To:       to,
		Value:    value,
		Data:     data,
		GasLimit: gasLimit,
		Fees:     c.EstimateFees(ctx),
	}, nil
}

// SignAndBroadcast assigns the next nonce, signs the intent, and submits
// the raw transaction. The nonce counter advances by exactly one only on
// successful broadcast; nonce assignment and increment form a single
// critical section so concurrent submissions never reuse a slot. Intents
// targeting a sentinel-degraded contract address are refused with
// ErrContractUnavailable before a nonce is consumed.
func (c *Client) SignAndBroadcast(ctx context.Context, intent *TxIntent) (common.Hash, error) {
	if !c.contractOK && intent.To == c.contractAddr {
		return common.Hash{}, fmt.Errorf("%w: refusing call to %s", ErrContractUnavailable, intent.To.Hex())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.preflightBalance(ctx, intent); err != nil {
		return common.Hash{}, err
	}

	tx := c.newTransaction(c.nonce, intent)
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		observability.RecordTxBroadcast("error")
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}

	observability.RecordTxBroadcast("ok")
	c.logger.Printf("chain: broadcast tx %s (nonce %d, to %s)", signed.Hash().Hex(), c.nonce, intent.To.Hex())
	c.nonce++
	return signed.Hash(), nil
}

// AwaitConfirmation polls for a receipt until the timeout elapses.
// A receipt with non-success status yields ErrExecutionFailed together
// with the receipt; no receipt within the bound yields
// ErrConfirmationTimeout. A timed-out transaction may still confirm
// later out-of-band.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: tx %s", ErrExecutionFailed, txHash.Hex())
			}
			observability.RecordTxConfirmLatency(time.Since(start).Seconds())
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("%w: tx %s after %s", ErrConfirmationTimeout, txHash.Hex(), timeout)
		case <-time.After(c.pollInterval):
		}
	}
}

// preflightBalance rejects a submission whose worst-case cost exceeds the
// identity's balance, before a nonce is consumed. A failed balance read
// skips the check; the broadcast itself remains the authority.
func (c *Client) preflightBalance(ctx context.Context, intent *TxIntent) error {
	balance, err := c.backend.BalanceAt(ctx, c.address, nil)
	if err != nil {
		return nil
	}

	cost := new(big.Int).Mul(intent.Fees.ceiling(), new(big.Int).SetUint64(intent.GasLimit))
	if intent.Value != nil {
		cost.Add(cost, intent.Value)
	}
	if balance.Cmp(cost) < 0 {
		return fmt.Errorf("%w: have %s wei, need %s wei", ErrInsufficientBalance, balance, cost)
	}
	return nil
}

func (c *Client) newTransaction(nonce uint64, intent *TxIntent) *types.Transaction {
	value := intent.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := intent.To

	if intent.Fees.Legacy() {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: intent.Fees.GasPrice,
			Gas:      intent.GasLimit,
			To:       &to,
			Value:    value,
			Data:     intent.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: intent.Fees.GasTipCap,
		GasFeeCap: intent.Fees.GasFeeCap,
		Gas:       intent.GasLimit,
		To:        &to,
		Value:     value,
		Data:      intent.Data,
	})
}

// isLoopback reports whether the endpoint points at a local node, where
// sub-second receipt polling is cheap.
func isLoopback(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
