package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{
		"constant": false,
		"inputs": [
			{"name": "_spender", "type": "address"},
			{"name": "_value", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	}
]`

const limitOrderABIJSON = `[
	{
		"inputs": [
			{"internalType": "address", "name": "fromToken", "type": "address"},
			{"internalType": "address", "name": "toToken", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "price", "type": "uint256"},
			{"internalType": "address", "name": "maker", "type": "address"}
		],
		"name": "submitLimitOrder",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ERC20ABI returns the parsed ERC-20 ABI subset used by the client.
func ERC20ABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("invalid embedded ERC20 ABI: " + err.Error())
	}
	return parsed
}

// LimitOrderABI returns the parsed limit order protocol ABI.
func LimitOrderABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(limitOrderABIJSON))
	if err != nil {
		panic("invalid embedded limit order ABI: " + err.Error())
	}
	return parsed
}
