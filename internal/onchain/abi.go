package onchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// multicall3ABI is the subset of Multicall3's interface this package uses:
// tryAggregate(bool requireSuccess, Call[] calls) returns (Result[] returnData).
const multicall3ABI = `[
	{
		"name": "tryAggregate",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "requireSuccess", "type": "bool"},
			{"name": "calls", "type": "tuple[]", "components": [
				{"name": "target", "type": "address"},
				{"name": "callData", "type": "bytes"}
			]}
		],
		"outputs": [
			{"name": "returnData", "type": "tuple[]", "components": [
				{"name": "success", "type": "bool"},
				{"name": "returnData", "type": "bytes"}
			]}
		]
	}
]`

// erc20ABI is the subset of ERC-20 (plus EIP-2612) this package packs calls for.
const erc20ABI = `[
	{
		"name": "balanceOf",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "balance", "type": "uint256"}]
	},
	{
		"name": "nonces",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "owner", "type": "address"}],
		"outputs": [{"name": "nonce", "type": "uint256"}]
	},
	{
		"name": "permit",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"outputs": []
	}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("onchain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	multicall3 = mustParseABI(multicall3ABI)
	erc20      = mustParseABI(erc20ABI)
)
