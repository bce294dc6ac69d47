package domain

import (
	"math/big"
	"testing"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{StatusCreated, StatusApprovalPending, true},
		{StatusCreated, StatusApproved, true},
		{StatusApprovalPending, StatusApproved, true},
		{StatusApproved, StatusGovernancePending, true},
		{StatusGovernancePending, StatusGovernanceApproved, true},
		{StatusGovernanceApproved, StatusOnchainSubmitted, true},
		{StatusGovernanceApproved, StatusFailedOnchain, true},
		{StatusOnchainSubmitted, StatusExecuted, true},
		{StatusOnchainSubmitted, StatusFailedOnchain, true},

		// No skipping stages.
		{StatusCreated, StatusGovernancePending, false},
		{StatusCreated, StatusOnchainSubmitted, false},
		{StatusApproved, StatusExecuted, false},
		{StatusApprovalPending, StatusGovernancePending, false},

		// No going backwards.
		{StatusApproved, StatusCreated, false},
		{StatusGovernanceApproved, StatusApproved, false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_CancelFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []OrderStatus{
		StatusCreated, StatusApprovalPending, StatusApproved,
		StatusGovernancePending, StatusGovernanceApproved, StatusOnchainSubmitted,
	}
	for _, from := range nonTerminal {
		if !CanTransition(from, StatusCanceled) {
			t.Errorf("expected %s -> CANCELED to be legal", from)
		}
	}
}

func TestCanTransition_TerminalStatesAdmitNothing(t *testing.T) {
	terminal := []OrderStatus{StatusExecuted, StatusFailedOnchain, StatusCanceled}
	all := []OrderStatus{
		StatusCreated, StatusApprovalPending, StatusApproved,
		StatusGovernancePending, StatusGovernanceApproved,
		StatusOnchainSubmitted, StatusExecuted, StatusFailedOnchain,
		StatusCanceled,
	}
	for _, from := range terminal {
		if !from.IsTerminal() {
			t.Errorf("expected %s to be terminal", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestOrderStatus_IsValid(t *testing.T) {
	if !StatusGovernanceApproved.IsValid() {
		t.Error("GOVERNANCE_APPROVED should be valid")
	}
	if OrderStatus("PENDING").IsValid() {
		t.Error("unknown status should be invalid")
	}
}

func TestResolveToken(t *testing.T) {
	weth := ResolveToken("WETH")
	if weth.Address != WETHAddressSepolia {
		t.Errorf("WETH address = %s, want %s", weth.Address, WETHAddressSepolia)
	}
	if weth.Decimals != 18 {
		t.Errorf("WETH decimals = %d, want 18", weth.Decimals)
	}

	usdc := ResolveToken("USDC")
	if usdc.Decimals != 6 {
		t.Errorf("USDC decimals = %d, want 6", usdc.Decimals)
	}

	// Unknown symbols pass through as opaque addresses with default
	// decimals.
	raw := "0x9999999999999999999999999999999999999999"
	unknown := ResolveToken(raw)
	if unknown.Address != raw {
		t.Errorf("unknown token address = %s, want %s", unknown.Address, raw)
	}
	if unknown.Decimals != DefaultTokenDecimals {
		t.Errorf("unknown token decimals = %d, want %d", unknown.Decimals, DefaultTokenDecimals)
	}
}

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   float64
		decimals int
		want     string
	}{
		{1, 18, "1000000000000000000"},
		{1.5, 18, "1500000000000000000"},
		{0.25, 18, "250000000000000000"},
		{250, 6, "250000000"},
		{0.5, 6, "500000"},
		{0, 18, "0"},
	}
	for _, tc := range cases {
		got := ToBaseUnits(tc.amount, tc.decimals)
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Errorf("ToBaseUnits(%g, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}
