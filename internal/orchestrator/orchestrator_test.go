package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/ordersign"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/vault"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

func TestDecodeSaltRejectsWrongLength(t *testing.T) {
	if _, err := decodeSalt("0x1234"); err == nil {
		t.Fatal("expected error for short salt")
	}
}

func TestDecodeSaltAcceptsOptional0xPrefix(t *testing.T) {
	hex64 := "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
	a, err := decodeSalt(hex64)
	if err != nil {
		t.Fatalf("decodeSalt() error = %v", err)
	}
	b, err := decodeSalt("0x" + hex64)
	if err != nil {
		t.Fatalf("decodeSalt() error = %v", err)
	}
	if string(a) != string(b) {
		t.Error("expected identical decode with and without 0x prefix")
	}
}

func TestChainNotConfiguredErrorNamesChain(t *testing.T) {
	err := chainNotConfiguredError(999)
	if err == nil {
		t.Fatal("expected non-nil error")
	}
	if !strings.Contains(err.Error(), "999") {
		t.Errorf("expected error to name chain 999, got %q", err.Error())
	}
}

// fakeStore is an in-memory stand-in for *store.Store covering only the
// methods Execute calls.
type fakeStore struct {
	depositRecorded bool
	markExecutingErr error
	markedExecuting bool
	markedFailedReason string
	savedOrderUID   string
}

func (f *fakeStore) RecordDeposit(ctx context.Context, swapID, depositTxHash string, depositAmount *big.Int) error {
	f.depositRecorded = true
	return nil
}

func (f *fakeStore) MarkExecuting(ctx context.Context, swapID string) error {
	if f.markExecutingErr != nil {
		return f.markExecutingErr
	}
	f.markedExecuting = true
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, swapID, reason string) error {
	f.markedFailedReason = reason
	return nil
}

func (f *fakeStore) SaveOrderUID(ctx context.Context, swapID, uid string) error {
	f.savedOrderUID = uid
	return nil
}

// fakeVault derives a fixed key pair regardless of salt, so tests don't need
// a real master key.
type fakeVault struct {
	key *ecdsa.PrivateKey
}

func newFakeVault(t *testing.T) *fakeVault {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return &fakeVault{key: key}
}

func (f *fakeVault) Derive(salt [vault.SaltLen]byte) (*vault.Derived, error) {
	return &vault.Derived{Address: crypto.PubkeyToAddress(f.key.PublicKey), Key: f.key}, nil
}

type fakeReader struct {
	nonce *big.Int
	err   error
}

func (f *fakeReader) PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	return f.nonce, f.err
}

type fakeBook struct {
	quote *orderbook.Quote
	err   error
}

func (f *fakeBook) Quote(ctx context.Context, chainID uint64, sellToken, buyToken string, sellAmount *big.Int, from string) (*orderbook.Quote, error) {
	return f.quote, f.err
}

type fakeSlippage struct{ bips int64 }

func (f *fakeSlippage) BipsFor(ctx context.Context, chainID uint64, sellToken, buyToken string) int64 {
	return f.bips
}

type fakeSigner struct {
	uid string
	err error
}

func (f *fakeSigner) SignAndSubmit(ctx context.Context, p ordersign.Params) (string, error) {
	return f.uid, f.err
}

func testSwap() *store.Swap {
	salt := make([]byte, vault.SaltLen)
	return &store.Swap{
		SwapID:           "swap-1",
		ChainID:          8453,
		VaultAddress:     "0x0000000000000000000000000000000000dEaD",
		VaultSalt:        helpers.BytesToHex(salt),
		BuyToken:         `{"type":"ether"}`,
		RecipientAddress: "0x000000000000000000000000000000000000aa",
	}
}

func TestExecuteSubmitsOrderOnHappyPath(t *testing.T) {
	fs := &fakeStore{}
	fv := newFakeVault(t)
	reader := &fakeReader{nonce: big.NewInt(0)}
	book := &fakeBook{quote: &orderbook.Quote{SellAmount: big.NewInt(100), BuyAmount: big.NewInt(200)}}
	sl := &fakeSlippage{bips: 50}
	signer := &fakeSigner{uid: "0xorderuid"}

	o := New(fs, fv, map[uint64]Reader{8453: reader}, book, sl, signer, logging.New(&logging.Config{}))
	o.Execute(context.Background(), testSwap(), big.NewInt(100))

	if !fs.depositRecorded {
		t.Error("expected RecordDeposit to be called")
	}
	if !fs.markedExecuting {
		t.Error("expected MarkExecuting to be called")
	}
	if fs.savedOrderUID != "0xorderuid" {
		t.Errorf("savedOrderUID = %q, want 0xorderuid", fs.savedOrderUID)
	}
	if fs.markedFailedReason != "" {
		t.Errorf("unexpected failure reason: %q", fs.markedFailedReason)
	}
}

func TestExecuteMarksFailedWhenChainNotConfigured(t *testing.T) {
	fs := &fakeStore{}
	fv := newFakeVault(t)
	book := &fakeBook{quote: &orderbook.Quote{SellAmount: big.NewInt(1), BuyAmount: big.NewInt(1)}}
	sl := &fakeSlippage{bips: 0}
	signer := &fakeSigner{uid: "0xuid"}

	o := New(fs, fv, map[uint64]Reader{}, book, sl, signer, logging.New(&logging.Config{}))
	o.Execute(context.Background(), testSwap(), big.NewInt(100))

	if fs.markedFailedReason == "" {
		t.Fatal("expected swap to be marked failed when no reader is configured for its chain")
	}
	if fs.savedOrderUID != "" {
		t.Error("expected no order UID to be saved")
	}
}

func TestExecuteMarksFailedWhenSignAndSubmitErrors(t *testing.T) {
	fs := &fakeStore{}
	fv := newFakeVault(t)
	reader := &fakeReader{nonce: big.NewInt(0)}
	book := &fakeBook{quote: &orderbook.Quote{SellAmount: big.NewInt(100), BuyAmount: big.NewInt(200)}}
	sl := &fakeSlippage{bips: 50}
	signer := &fakeSigner{err: errors.New("upstream submit failed")}

	o := New(fs, fv, map[uint64]Reader{8453: reader}, book, sl, signer, logging.New(&logging.Config{}))
	o.Execute(context.Background(), testSwap(), big.NewInt(100))

	if fs.markedFailedReason == "" {
		t.Fatal("expected swap to be marked failed when order submission errors")
	}
}

func TestExecuteReturnsEarlyWhenMarkExecutingMakesNoProgress(t *testing.T) {
	fs := &fakeStore{markExecutingErr: store.ErrNoProgress}
	fv := newFakeVault(t)
	signer := &fakeSigner{uid: "0xuid"}

	o := New(fs, fv, map[uint64]Reader{}, &fakeBook{}, &fakeSlippage{}, signer, logging.New(&logging.Config{}))
	o.Execute(context.Background(), testSwap(), big.NewInt(100))

	if fs.markedFailedReason != "" {
		t.Error("a concurrent dispatch should return quietly, not mark failed")
	}
}
