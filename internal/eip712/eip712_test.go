package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDomainSeparatorIsDeterministic(t *testing.T) {
	verifying := common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf")
	a := DomainSeparator("Coinbase Wrapped BTC", "2", 8453, verifying)
	b := DomainSeparator("Coinbase Wrapped BTC", "2", 8453, verifying)
	if a != b {
		t.Fatal("expected identical domain separators for identical inputs")
	}
}

func TestDomainSeparatorDiffersByChain(t *testing.T) {
	verifying := common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf")
	a := DomainSeparator("Coinbase Wrapped BTC", "2", 1, verifying)
	b := DomainSeparator("Coinbase Wrapped BTC", "2", 8453, verifying)
	if a == b {
		t.Fatal("expected different domain separators for different chain IDs")
	}
}

func TestHashPermitIsDeterministic(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	value := new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)
	value.Sub(value, big.NewInt(1))

	a := HashPermit(owner, spender, value, big.NewInt(0), value)
	b := HashPermit(owner, spender, value, big.NewInt(0), value)
	if a != b {
		t.Fatal("expected identical permit struct hashes for identical inputs")
	}

	c := HashPermit(owner, spender, value, big.NewInt(1), value)
	if a == c {
		t.Fatal("expected different hashes for different nonces")
	}
}

func TestHashOrderChangesWithSellAmount(t *testing.T) {
	base := Order{
		SellToken:  common.HexToAddress("0xA"),
		BuyToken:   common.HexToAddress("0xB"),
		Receiver:   common.HexToAddress("0xC"),
		SellAmount: big.NewInt(1000),
		BuyAmount:  big.NewInt(990),
		ValidTo:    123456,
		FeeAmount:  big.NewInt(0),
	}
	a := HashOrder(base)

	modified := base
	modified.SellAmount = big.NewInt(2000)
	b := HashOrder(modified)

	if a == b {
		t.Fatal("expected struct hash to change when sellAmount changes")
	}
}

func TestSigningHashCombinesDomainAndStruct(t *testing.T) {
	var domain, structHash [32]byte
	domain[0] = 1
	structHash[0] = 2
	h1 := SigningHash(domain, structHash)

	structHash[0] = 3
	h2 := SigningHash(domain, structHash)

	if h1 == h2 {
		t.Fatal("expected signing hash to depend on struct hash")
	}
}
