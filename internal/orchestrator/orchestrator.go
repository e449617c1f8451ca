// Package orchestrator is the single place where a detected deposit turns
// into a signed, submitted order. It sits above the store and both pollers
// and calls down into the on-chain reader, permit builder, slippage
// oracle, and order signer — all injected as constructor arguments so
// tests can substitute fakes.
package orchestrator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/riftresearch/cbbtc-swapd/internal/chain"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/ordersign"
	"github.com/riftresearch/cbbtc-swapd/internal/permit"
	"github.com/riftresearch/cbbtc-swapd/internal/slippage"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/internal/token"
	"github.com/riftresearch/cbbtc-swapd/internal/vault"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// Store is the subset of persistence operations Execute needs to record a
// deposit, gate concurrent dispatch, and save the eventual order UID.
type Store interface {
	RecordDeposit(ctx context.Context, swapID, depositTxHash string, depositAmount *big.Int) error
	MarkExecuting(ctx context.Context, swapID string) error
	MarkFailed(ctx context.Context, swapID, reason string) error
	SaveOrderUID(ctx context.Context, swapID, uid string) error
}

// VaultDeriver derives a vault's key pair from its salt. Satisfied by *vault.Vault.
type VaultDeriver interface {
	Derive(salt [vault.SaltLen]byte) (*vault.Derived, error)
}

// Reader is the per-chain on-chain read Execute needs: the sell token's
// EIP-2612 permit nonce for the derived vault address. Satisfied by
// *onchain.Reader.
type Reader interface {
	PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error)
}

// Book is the orderbook operation Execute needs to price the actual
// deposited balance. Satisfied by *orderbook.Client.
type Book interface {
	Quote(ctx context.Context, chainID uint64, sellToken, buyToken string, sellAmount *big.Int, from string) (*orderbook.Quote, error)
}

// SlippageOracle looks up the per-market slippage tolerance applied to a quote.
type SlippageOracle interface {
	BipsFor(ctx context.Context, chainID uint64, sellToken, buyToken string) int64
}

// OrderSigner builds, signs, and submits the GPv2 order. Satisfied by *ordersign.Signer.
type OrderSigner interface {
	SignAndSubmit(ctx context.Context, p ordersign.Params) (string, error)
}

// Orchestrator executes the seven-step sequence that turns a funded vault
// into a submitted settlement order.
type Orchestrator struct {
	store    Store
	vault    VaultDeriver
	readers  map[uint64]Reader
	book     Book
	slippage SlippageOracle
	signer   OrderSigner
	log      *logging.Logger
}

// New builds an Orchestrator. readers must have one entry per supported chain ID.
func New(st Store, v VaultDeriver, readers map[uint64]Reader, book Book, sl SlippageOracle, signer OrderSigner, log *logging.Logger) *Orchestrator {
	return &Orchestrator{store: st, vault: v, readers: readers, book: book, slippage: sl, signer: signer, log: log}
}

// Execute runs the full deposit-to-order sequence for one swap whose vault
// was observed holding balance. Any failure after markExecuting leaves the
// vault's funds untouched and moves the swap to failed with a reason;
// the orchestrator never issues a refund itself.
func (o *Orchestrator) Execute(ctx context.Context, sw *store.Swap, balance *big.Int) {
	// Step 1: record the observed deposit. Balance is observed via eth_call,
	// not an event log, so there is no discrete deposit transaction hash to
	// capture — an empty string here is by design, not an omission.
	if err := o.store.RecordDeposit(ctx, sw.SwapID, "", balance); err != nil {
		o.log.Warnf("recordDeposit(%s) failed: %v", sw.SwapID, err)
		return
	}

	// Step 2: status-gated transition; zero rows affected means a
	// concurrent tick already dispatched this swap.
	if err := o.store.MarkExecuting(ctx, sw.SwapID); err != nil {
		if err == store.ErrNoProgress {
			return
		}
		o.log.Warnf("markExecuting(%s) failed: %v", sw.SwapID, err)
		return
	}

	if err := o.executeLocked(ctx, sw, balance); err != nil {
		o.log.Errorf("swap %s failed after markExecuting: %v", sw.SwapID, err)
		if markErr := o.store.MarkFailed(ctx, sw.SwapID, err.Error()); markErr != nil && markErr != store.ErrNoProgress {
			o.log.Errorf("markFailed(%s) also failed: %v", sw.SwapID, markErr)
		}
	}
}

func (o *Orchestrator) executeLocked(ctx context.Context, sw *store.Swap, balance *big.Int) error {
	reader, ok := o.readers[sw.ChainID]
	if !ok {
		return chainNotConfiguredError(sw.ChainID)
	}

	// Step 3: derive the vault's private key from its salt.
	var salt [vault.SaltLen]byte
	saltBytes, err := decodeSalt(sw.VaultSalt)
	if err != nil {
		return err
	}
	copy(salt[:], saltBytes)
	derived, err := o.vault.Derive(salt)
	if err != nil {
		return err
	}
	defer derived.Zero()

	buyDescriptor, err := token.Parse(sw.BuyToken)
	if err != nil {
		return err
	}
	buyToken := buyDescriptor.Address()

	// Step 4: build the permit and app-data document.
	nonce, err := reader.PermitNonce(ctx, derived.Address)
	if err != nil {
		return err
	}
	bips := o.slippage.BipsFor(ctx, sw.ChainID, chain.CBBTC.Hex(), buyToken.Hex())
	signedPermit, err := permit.Build(derived.Key, sw.ChainID, chain.CBBTC, chain.VaultRelayer, nonce, bips)
	if err != nil {
		return err
	}

	// Step 5: a fresh quote against the actual deposited balance; the
	// quote taken at /quote time was advisory only.
	q, err := o.book.Quote(ctx, sw.ChainID, chain.CBBTC.Hex(), buyToken.Hex(), balance, derived.Address.Hex())
	if err != nil {
		return err
	}
	buyAmount := slippage.ApplyToBuyAmount(q.BuyAmount, bips)

	// Step 6: sign and submit the order.
	uid, err := o.signer.SignAndSubmit(ctx, ordersign.Params{
		ChainID:      sw.ChainID,
		OwnerKey:     derived.Key,
		BuyToken:     buyToken,
		Receiver:     common.HexToAddress(sw.RecipientAddress),
		SellAmount:   q.SellAmount,
		BuyAmount:    buyAmount,
		AppDataHash:  signedPermit.AppDataHash,
		AppDataBytes: signedPermit.AppDataBytes,
	})
	if err != nil {
		return err
	}

	// Step 7: persist the order UID; sets order_status=OPEN.
	if err := o.store.SaveOrderUID(ctx, sw.SwapID, uid); err != nil && err != store.ErrNoProgress {
		return err
	}
	return nil
}

func decodeSalt(s string) ([]byte, error) {
	b, err := helpers.HexToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault salt: %w", err)
	}
	if len(b) != vault.SaltLen {
		return nil, fmt.Errorf("vault salt has length %d, want %d", len(b), vault.SaltLen)
	}
	return b, nil
}

func chainNotConfiguredError(chainID uint64) error {
	return fmt.Errorf("no on-chain reader configured for chain %d", chainID)
}
