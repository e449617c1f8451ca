// Package ordersign builds and signs the GPv2 sell order under the
// settlement contract's EIP-712 domain, uploads its app-data document, and
// submits it to the settlement orderbook.
package ordersign

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/riftresearch/cbbtc-swapd/internal/chain"
	"github.com/riftresearch/cbbtc-swapd/internal/eip712"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/pkg/helpers"
)

// validity is how long a submitted order remains fillable.
const validity = 24 * time.Hour

// Signer builds, signs, and submits GPv2 sell orders.
type Signer struct {
	book *orderbook.Client
}

// New builds a Signer that submits through book.
func New(book *orderbook.Client) *Signer {
	return &Signer{book: book}
}

// Params is everything SignAndSubmit needs to produce and submit one order.
type Params struct {
	ChainID      uint64
	OwnerKey     *ecdsa.PrivateKey // the swap's derived vault key
	BuyToken     common.Address
	Receiver     common.Address
	SellAmount   *big.Int
	BuyAmount    *big.Int // post-slippage, from slippage.ApplyToBuyAmount
	AppDataHash  [32]byte
	AppDataBytes []byte
}

// SignAndSubmit builds the GPv2 order, uploads its app-data, signs it under
// the settlement contract's EIP-712 domain, submits it, and returns the
// orderbook-assigned order UID.
func (s *Signer) SignAndSubmit(ctx context.Context, p Params) (string, error) {
	validTo := uint32(time.Now().Add(validity).Unix())
	appDataHex := helpers.BytesToHex(p.AppDataHash[:])

	if err := s.book.UploadAppData(ctx, p.ChainID, appDataHex, p.AppDataBytes); err != nil {
		return "", fmt.Errorf("failed to upload app-data: %w", err)
	}

	order := eip712.Order{
		SellToken:         chain.CBBTC,
		BuyToken:          p.BuyToken,
		Receiver:          p.Receiver,
		SellAmount:        p.SellAmount,
		BuyAmount:         p.BuyAmount,
		ValidTo:           validTo,
		AppData:           p.AppDataHash,
		FeeAmount:         big.NewInt(0),
		PartiallyFillable: false,
	}

	domainSeparator := eip712.DomainSeparator(chain.SettlementDomainName, chain.SettlementDomainVersion, p.ChainID, chain.SettlementContract)
	structHash := eip712.HashOrder(order)
	digest := eip712.SigningHash(domainSeparator, structHash)

	sig, err := crypto.Sign(digest[:], p.OwnerKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign order: %w", err)
	}
	sig[64] += 27 // Ethereum v convention; the eip712 signing scheme expects 27/28

	owner := crypto.PubkeyToAddress(p.OwnerKey.PublicKey)

	orderFields := map[string]interface{}{
		"sellToken":         order.SellToken.Hex(),
		"buyToken":          order.BuyToken.Hex(),
		"receiver":          order.Receiver.Hex(),
		"sellAmount":        order.SellAmount.String(),
		"buyAmount":         order.BuyAmount.String(),
		"validTo":           order.ValidTo,
		"appData":           appDataHex,
		"feeAmount":         "0",
		"kind":              "sell",
		"partiallyFillable": false,
		"sellTokenBalance":  "erc20",
		"buyTokenBalance":   "erc20",
	}

	uid, err := s.book.Submit(ctx, p.ChainID, orderbook.SignedOrder{
		Order:     orderFields,
		Signature: helpers.BytesToHex(sig),
		Scheme:    "eip712",
		From:      owner.Hex(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit order: %w", err)
	}
	return uid, nil
}
