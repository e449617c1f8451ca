// Package permit builds a gasless EIP-2612 approval signed by a swap's
// derived vault key, the ERC-20 permit() calldata that redeems it, and the
// deterministic app-data document that carries that calldata through the
// settlement orderbook as a pre-hook.
package permit

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/internal/chain"
	"github.com/riftresearch/cbbtc-swapd/internal/eip712"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
)

// MaxUint256 is both the permit value and deadline this system always uses:
// an unbounded, non-expiring approval scoped to a single permit() redemption
// by the vault relayer.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// appCode identifies this system to the orderbook's app-data indexers.
const appCode = "cbbtc-swap-coordinator"

// preHookGasLimit is the gas budget advertised for the permit pre-hook.
const preHookGasLimit = "80000"

// Signed is everything produced for one swap's permit.
type Signed struct {
	V byte
	R [32]byte
	S [32]byte

	Calldata     []byte // ERC-20 permit(owner,spender,value,deadline,v,r,s)
	AppDataHash  [32]byte
	AppDataBytes []byte // the exact canonical JSON bytes hashed into AppDataHash
}

var erc20PermitABI = permitPacker{}

// permitPacker hand-packs the ERC-20 permit(...) calldata; the selector and
// argument layout are fixed by EIP-2612 so no ABI-JSON round trip is needed
// beyond what internal/onchain already uses for reading nonces.
type permitPacker struct{}

var permitSelector = crypto.Keccak256([]byte("permit(address,address,uint256,uint256,uint8,bytes32,bytes32)"))[:4]

func (permitPacker) pack(owner, spender common.Address, value, deadline *big.Int, v byte, r, s [32]byte) []byte {
	out := make([]byte, 0, 4+7*32)
	out = append(out, permitSelector...)
	out = append(out, helpers.PadLeft(owner.Bytes(), 32)...)
	out = append(out, helpers.PadLeft(spender.Bytes(), 32)...)
	out = append(out, helpers.PadLeft(value.Bytes(), 32)...)
	out = append(out, helpers.PadLeft(deadline.Bytes(), 32)...)
	out = append(out, helpers.PadLeft([]byte{v}, 32)...)
	out = append(out, r[:]...)
	out = append(out, s[:]...)
	return out
}

// Build signs a permit authorizing the GPv2 vault relayer to pull up to
// MaxUint256 of sellToken from owner, using the token's EIP-2612 domain
// (name="Coinbase Wrapped BTC", version="2"), and assembles the app-data
// document that carries its calldata as a pre-hook.
func Build(ownerKey *ecdsa.PrivateKey, chainID uint64, sellToken, vaultRelayer common.Address, nonce *big.Int, slippageBips int64) (*Signed, error) {
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	domainSeparator := eip712.DomainSeparator(chain.CBBTCPermitName, chain.CBBTCPermitVersion, chainID, sellToken)
	structHash := eip712.HashPermit(owner, vaultRelayer, MaxUint256, nonce, MaxUint256)
	digest := eip712.SigningHash(domainSeparator, structHash)

	sig, err := crypto.Sign(digest[:], ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(sig))
	}

	var r, s [32]byte
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v := sig[64] + 27

	calldata := erc20PermitABI.pack(owner, vaultRelayer, MaxUint256, MaxUint256, v, r, s)

	appDataBytes, appDataHash, err := buildAppData(sellToken, calldata, slippageBips)
	if err != nil {
		return nil, err
	}

	return &Signed{
		V:            v,
		R:            r,
		S:            s,
		Calldata:     calldata,
		AppDataHash:  appDataHash,
		AppDataBytes: appDataBytes,
	}, nil
}

// buildAppData renders the pre-hook app-data document carrying the permit
// calldata and returns both its canonical bytes and their keccak256 hash.
func buildAppData(sellToken common.Address, permitCalldata []byte, slippageBips int64) ([]byte, [32]byte, error) {
	document := map[string]interface{}{
		"version": "1.1.0",
		"appCode": appCode,
		"metadata": map[string]interface{}{
			"hooks": map[string]interface{}{
				"pre": []interface{}{
					map[string]interface{}{
						"target":   sellToken.Hex(),
						"callData": helpers.BytesToHex(permitCalldata),
						"gasLimit": preHookGasLimit,
					},
				},
			},
			"orderClass": map[string]interface{}{
				"orderClass": "market",
			},
			"quote": map[string]interface{}{
				"slippageBips":  slippageBips,
				"smartSlippage": true,
			},
		},
	}

	rendered, err := canonicalJSON(document)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("failed to render app-data document: %w", err)
	}

	raw := []byte(rendered)
	return raw, crypto.Keccak256Hash(raw), nil
}
