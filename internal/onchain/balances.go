// Package onchain implements batched CBBTC balance reads via a
// Multicall3-style aggregator contract, and the single other on-chain read
// the permit builder needs — the ERC-20 permit nonce. Both ride the same
// ethclient connection per chain.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/riftresearch/cbbtc-swapd/internal/apperr"
)

// batchSize caps how many balanceOf calls are bundled into one aggregator
// request, avoiding RPC-provider response-size limits.
const batchSize = 7500

// Reader wraps one chain's RPC endpoint for batched balance reads and
// single-address permit-nonce reads.
type Reader struct {
	client     *ethclient.Client
	aggregator common.Address
	token      common.Address
}

// NewReader dials rpcURL and returns a Reader that queries balances of
// tokenAddress through the given aggregator contract.
func NewReader(rpcURL string, aggregator, tokenAddress common.Address) (*Reader, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, apperr.Upstream("failed to connect to RPC", err)
	}
	return &Reader{client: client, aggregator: aggregator, token: tokenAddress}, nil
}

// Close releases the underlying RPC connection.
func (r *Reader) Close() { r.client.Close() }

// BatchBalances returns the CBBTC balance of each address in owners, in the
// same order as owners. A per-call failure (e.g. a call that reverts) is
// reported as zero, not an error; only a whole-batch RPC failure returns an
// error, in which case the caller should log and skip this chain for the tick.
func (r *Reader) BatchBalances(ctx context.Context, owners []common.Address) ([]*big.Int, error) {
	out := make([]*big.Int, 0, len(owners))
	for start := 0; start < len(owners); start += batchSize {
		end := start + batchSize
		if end > len(owners) {
			end = len(owners)
		}
		chunk, err := r.batchBalancesChunk(ctx, owners[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

type multicallCall struct {
	Target   common.Address
	CallData []byte
}

func (r *Reader) batchBalancesChunk(ctx context.Context, owners []common.Address) ([]*big.Int, error) {
	calls := make([]multicallCall, len(owners))
	for i, owner := range owners {
		data, err := erc20.Pack("balanceOf", owner)
		if err != nil {
			return nil, fmt.Errorf("failed to pack balanceOf(%s): %w", owner, err)
		}
		calls[i] = multicallCall{Target: r.token, CallData: data}
	}

	packed, err := multicall3.Pack("tryAggregate", false, calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack tryAggregate: %w", err)
	}

	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.aggregator,
		Data: packed,
	}, nil)
	if err != nil {
		return nil, apperr.Upstream("aggregator call failed", err)
	}

	unpacked, err := multicall3.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack tryAggregate result: %w", err)
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("unexpected tryAggregate return arity %d", len(unpacked))
	}

	results, err := reflectMulticallResults(unpacked[0])
	if err != nil {
		return nil, err
	}
	if len(results) != len(owners) {
		return nil, fmt.Errorf("expected %d multicall results, got %d", len(owners), len(results))
	}

	balances := make([]*big.Int, len(owners))
	for i, res := range results {
		balances[i] = decodeBalance(res.success, res.returnData)
	}
	return balances, nil
}

type multicallOutcome struct {
	success    bool
	returnData []byte
}

// reflectMulticallResults extracts the Success/ReturnData fields go-ethereum's
// abi package generates an anonymous struct slice for — reflection avoids
// depending on the exact unexported struct type abi.Unpack constructs.
func reflectMulticallResults(v interface{}) ([]multicallOutcome, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("unexpected tryAggregate result shape %T", v)
	}
	out := make([]multicallOutcome, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		success := elem.FieldByName("Success")
		returnData := elem.FieldByName("ReturnData")
		if !success.IsValid() || !returnData.IsValid() {
			return nil, fmt.Errorf("multicall result element missing Success/ReturnData fields")
		}
		out[i] = multicallOutcome{
			success:    success.Bool(),
			returnData: returnData.Bytes(),
		}
	}
	return out, nil
}

func decodeBalance(success bool, returnData []byte) *big.Int {
	if !success || len(returnData) == 0 {
		return big.NewInt(0)
	}
	var out struct {
		Balance *big.Int
	}
	if err := erc20.UnpackIntoInterface(&out, "balanceOf", returnData); err != nil || out.Balance == nil {
		return big.NewInt(0)
	}
	return out.Balance
}

// PermitNonce reads the EIP-2612 permit nonce for owner on the configured token.
func (r *Reader) PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	data, err := erc20.Pack("nonces", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack nonces(%s): %w", owner, err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{
		To:   &r.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, apperr.Upstream("nonces call failed", err)
	}
	var out struct {
		Nonce *big.Int
	}
	if err := erc20.UnpackIntoInterface(&out, "nonces", raw); err != nil {
		return nil, fmt.Errorf("failed to unpack nonces result: %w", err)
	}
	return out.Nonce, nil
}
