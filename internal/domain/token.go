package domain

import (
	"math/big"
	"strings"
)

// TokenInfo describes a known ERC-20 token.
type TokenInfo struct {
	Symbol   string
	Address  string
	Decimals int
}

// DefaultTokenDecimals is assumed for tokens not present in the registry.
const DefaultTokenDecimals = 18

// Sepolia test token addresses.
const (
	WETHAddressSepolia = "0xfFf9976782d46CC05630D1f6eB9Bc98210fBfCc5"
	USDCAddressSepolia = "0x56aD9fB23C8A0B2C9030A9086A0F174a7D4E708E"
)

// knownTokens is the static symbol table consulted during order creation.
var knownTokens = map[string]TokenInfo{
	"WETH": {Symbol: "WETH", Address: WETHAddressSepolia, Decimals: 18},
	"USDC": {Symbol: "USDC", Address: USDCAddressSepolia, Decimals: 6},
}

// ResolveToken maps a symbolic token name to its chain address and
// decimals. Unresolved symbols are treated as opaque addresses with the
// default 18 decimals, so callers may pass raw addresses directly.
func ResolveToken(symbol string) TokenInfo {
	if info, ok := knownTokens[strings.ToUpper(symbol)]; ok {
		return info
	}
	return TokenInfo{Symbol: symbol, Address: symbol, Decimals: DefaultTokenDecimals}
}

// ToBaseUnits converts a human-unit quantity to the token's smallest
// denomination, truncating any sub-unit remainder.
func ToBaseUnits(amount float64, decimals int) *big.Int {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	scaled := new(big.Float).Mul(big.NewFloat(amount), scale)
	units, _ := scaled.Int(nil)
	return units
}
