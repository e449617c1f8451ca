// Package token implements a buy- or sell-side asset descriptor that is
// either a native-ETH sentinel or an ERC-20 contract address. Both call
// sites (the HTTP layer and the orchestrator) share the same parsing and
// validation rather than each inventing their own.
package token

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/riftresearch/cbbtc-swapd/internal/apperr"
	"github.com/riftresearch/cbbtc-swapd/internal/chain"
)

// Kind discriminates the two supported token variants.
type Kind string

const (
	KindEther Kind = "ether"
	KindERC20 Kind = "erc20"
)

// Descriptor is a buy/sell token as exchanged over the wire and persisted.
type Descriptor struct {
	Kind    Kind   `json:"type"`
	Address string `json:"address,omitempty"`
}

// Address returns the EVM address to use on the orderbook wire for this
// descriptor: the well-known native-ETH sentinel for "ether", or the
// checksummed ERC-20 contract address otherwise.
func (d Descriptor) Address() common.Address {
	if d.Kind == KindEther {
		return chain.NativeSentinel
	}
	return common.HexToAddress(d.Address)
}

// Validate sanity-checks the descriptor, rejecting malformed
// or unrecognized-kind input at the system boundary.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindEther:
		return nil
	case KindERC20:
		if !common.IsHexAddress(d.Address) {
			return apperr.Validation(fmt.Sprintf("invalid erc20 address %q", d.Address), nil)
		}
		return nil
	default:
		return apperr.Validation(fmt.Sprintf("unknown token type %q", d.Kind), nil)
	}
}

// Serialize renders the descriptor as its persisted/wire JSON form, with
// ERC-20 addresses normalized to EIP-55 checksum case.
func (d Descriptor) Serialize() (string, error) {
	out := Descriptor{Kind: d.Kind}
	if d.Kind == KindERC20 {
		out.Address = common.HexToAddress(d.Address).Hex()
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to serialize token descriptor: %w", err)
	}
	return string(b), nil
}

// Parse decodes a token descriptor from its wire/persisted JSON form.
func Parse(raw string) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse token descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
