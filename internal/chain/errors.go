package chain

import "errors"

// Chain client errors. Per-call failures are returned as typed errors and
// leave the client usable for subsequent calls; only construction-time
// failures are fatal.
var (
	// ErrConfirmationTimeout is returned when a receipt does not arrive
	// within the confirmation bound. The transaction may still confirm
	// later out-of-band; callers must not assume it was dropped.
	ErrConfirmationTimeout = errors.New("confirmation timeout: no receipt within bound")

	// ErrExecutionFailed is returned when a receipt arrives with a
	// non-success status.
	ErrExecutionFailed = errors.New("onchain execution failed: receipt status not success")

	// ErrInsufficientBalance is returned by the pre-flight balance check
	// before a nonce is consumed.
	ErrInsufficientBalance = errors.New("insufficient balance for estimated transaction cost")

	// ErrContractUnavailable is returned when the target contract address
	// degraded to the sentinel at construction time.
	ErrContractUnavailable = errors.New("contract address not configured: sentinel address in use")
)
