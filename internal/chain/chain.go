// Package chain defines the small, closed set of EVM chains the coordinator
// supports along with the well-known contract addresses each chain shares.
// Nothing here is configurable at runtime beyond the RPC endpoint, which is
// supplied by internal/config; the chain set itself is a fixed registry, the
// same way the rest of this codebase hardcodes protocol constants rather than
// loading them from a file.
package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Params describes one supported chain's identity and polling cadence.
type Params struct {
	// ChainID is the EVM chain ID (1, 8453, ...).
	ChainID uint64
	// Name is a human label used in logs.
	Name string
	// PollingInterval is this chain's DepositPoller tick period.
	PollingInterval time.Duration
}

// Well-known contract addresses shared across every supported chain (§6.2).
var (
	// SettlementContract is the GPv2/CoW settlement domain's verifying contract.
	SettlementContract = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	// VaultRelayer is the EIP-2612 permit spender the solver pulls funds through.
	VaultRelayer = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
	// CBBTC is the sell-side token address; identical across chain 1 and 8453.
	CBBTC = common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf")
	// Aggregator is the Multicall3-compatible batched-read contract.
	Aggregator = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	// NativeSentinel is the address the orderbook uses to mean "native ETH" on the buy side.
	NativeSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeeEeEeeeeeEeeeeeeeEeeeeEEeE")
)

// CBBTCPermitDomain names the EIP-712 domain CBBTC's permit() signs under.
const (
	CBBTCPermitName    = "Coinbase Wrapped BTC"
	CBBTCPermitVersion = "2"
)

// SettlementDomain names the EIP-712 domain GPv2 sell orders sign under.
const (
	SettlementDomainName    = "Gnosis Protocol"
	SettlementDomainVersion = "v2"
)

var registry = map[uint64]*Params{
	1: {
		ChainID:         1,
		Name:            "ethereum",
		PollingInterval: 24 * time.Second,
	},
	8453: {
		ChainID:         8453,
		Name:            "base",
		PollingInterval: 10 * time.Second,
	},
}

// Get returns the params for chainID and whether it is supported.
func Get(chainID uint64) (*Params, bool) {
	p, ok := registry[chainID]
	return p, ok
}

// IsSupported reports whether chainID is one of the fixed supported chains.
func IsSupported(chainID uint64) bool {
	_, ok := registry[chainID]
	return ok
}

// All returns every supported chain's params, order unspecified.
func All() []*Params {
	out := make([]*Params, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	return out
}
