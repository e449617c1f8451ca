// Package eip712 builds EIP-712 domain separators and struct hashes for the
// two typed-data structures this system signs: an EIP-2612 Permit and a
// GPv2 sell order. Both need exactly the same
// keccak256("\x19\x01" || domainSeparator || structHash) scheme; this
// package supplies the domain separator and struct hash that digest takes
// as inputs.
//
// Every field in both structures is a static (32-byte-slot) EIP-712 type, so
// struct hashing here is plain word concatenation — no dynamic-type ABI
// encoder is needed.
package eip712

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	// PermitTypeHash is the EIP-2612 Permit type hash.
	PermitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))

	// OrderTypeHash is the GPv2 sell-order type hash.
	OrderTypeHash = crypto.Keccak256Hash([]byte(
		"Order(address sellToken,address buyToken,address receiver,uint256 sellAmount,uint256 buyAmount,uint256 validTo,bytes32 appData,uint256 feeAmount,bytes32 kind,bool partiallyFillable,bytes32 sellTokenBalance,bytes32 buyTokenBalance)",
	))

	// OrderKindSell and BalanceERC20 are the bytes32 encodings EIP-712
	// uses for the order's string-valued enum fields: keccak256 of the
	// literal string.
	OrderKindSell = crypto.Keccak256Hash([]byte("sell"))
	BalanceERC20  = crypto.Keccak256Hash([]byte("erc20"))
)

func addressWord(a common.Address) []byte { return helpers.PadLeft(a.Bytes(), 32) }
func uintWord(v *big.Int) []byte          { return helpers.PadLeft(v.Bytes(), 32) }
func boolWord(v bool) []byte {
	w := make([]byte, 32)
	if v {
		w[31] = 1
	}
	return w
}

// DomainSeparator computes the EIP-712 domain separator for a
// (name, version, chainId, verifyingContract) domain.
func DomainSeparator(name, version string, chainID uint64, verifyingContract common.Address) [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(name))
	versionHash := crypto.Keccak256Hash([]byte(version))

	buf := make([]byte, 0, 5*32)
	buf = append(buf, domainTypeHash.Bytes()...)
	buf = append(buf, nameHash.Bytes()...)
	buf = append(buf, versionHash.Bytes()...)
	buf = append(buf, uintWord(new(big.Int).SetUint64(chainID))...)
	buf = append(buf, addressWord(verifyingContract)...)
	return crypto.Keccak256Hash(buf)
}

// HashPermit computes the EIP-2612 Permit struct hash.
func HashPermit(owner, spender common.Address, value, nonce, deadline *big.Int) [32]byte {
	buf := make([]byte, 0, 6*32)
	buf = append(buf, PermitTypeHash.Bytes()...)
	buf = append(buf, addressWord(owner)...)
	buf = append(buf, addressWord(spender)...)
	buf = append(buf, uintWord(value)...)
	buf = append(buf, uintWord(nonce)...)
	buf = append(buf, uintWord(deadline)...)
	return crypto.Keccak256Hash(buf)
}

// Order mirrors the GPv2 sell-order fields needed for struct hashing.
type Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           [32]byte
	FeeAmount         *big.Int
	PartiallyFillable bool
}

// HashOrder computes the GPv2 sell-order struct hash. kind is always "sell"
// and both balance fields are always "erc20" for this system's orders.
func HashOrder(o Order) [32]byte {
	buf := make([]byte, 0, 12*32)
	buf = append(buf, OrderTypeHash.Bytes()...)
	buf = append(buf, addressWord(o.SellToken)...)
	buf = append(buf, addressWord(o.BuyToken)...)
	buf = append(buf, addressWord(o.Receiver)...)
	buf = append(buf, uintWord(o.SellAmount)...)
	buf = append(buf, uintWord(o.BuyAmount)...)
	buf = append(buf, uintWord(new(big.Int).SetUint64(uint64(o.ValidTo)))...)
	buf = append(buf, o.AppData[:]...)
	buf = append(buf, uintWord(o.FeeAmount)...)
	buf = append(buf, OrderKindSell.Bytes()...)
	buf = append(buf, boolWord(o.PartiallyFillable)...)
	buf = append(buf, BalanceERC20.Bytes()...)
	buf = append(buf, BalanceERC20.Bytes()...)
	return crypto.Keccak256Hash(buf)
}

// SigningHash computes the final EIP-712 digest keccak256("\x19\x01" ||
// domainSeparator || structHash), the hash EVMSignTypedData-style signing
// actually signs.
func SigningHash(domainSeparator, structHash [32]byte) [32]byte {
	buf := make([]byte, 0, 2+64)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domainSeparator[:]...)
	buf = append(buf, structHash[:]...)
	return crypto.Keccak256Hash(buf)
}
