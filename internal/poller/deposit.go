// Package poller implements the two timer-driven background loops that
// watch for funded vaults and reconcile submitted orders against the
// settlement orderbook: a ticker plus a select over the ticker channel and
// ctx.Done(), checked at the top of each iteration so shutdown never
// interrupts an in-flight tick.
package poller

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/riftresearch/cbbtc-swapd/internal/metrics"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// DepositStore is the subset of persistence DepositPoller needs: the
// pending-deposit swaps for one chain. Satisfied by *store.Store.
type DepositStore interface {
	PendingByChain(ctx context.Context, chainID uint64) ([]*store.Swap, error)
}

// BalanceReader reads CBBTC balances for a batch of vault addresses on one
// chain. Satisfied by *onchain.Reader.
type BalanceReader interface {
	BatchBalances(ctx context.Context, owners []common.Address) ([]*big.Int, error)
}

// Executor dispatches a funded swap through the deposit-to-order sequence.
// Satisfied by *orchestrator.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, sw *store.Swap, balance *big.Int)
}

// DepositPoller watches one chain's pending vaults for incoming balance.
type DepositPoller struct {
	chainID  uint64
	interval time.Duration
	store    DepositStore
	reader   BalanceReader
	orch     Executor
	metrics  *metrics.Registry
	log      *logging.Logger
}

// NewDepositPoller builds a poller for one chain, ticking every interval.
func NewDepositPoller(chainID uint64, interval time.Duration, st DepositStore, reader BalanceReader, orch Executor, m *metrics.Registry, log *logging.Logger) *DepositPoller {
	return &DepositPoller{chainID: chainID, interval: interval, store: st, reader: reader, orch: orch, metrics: m, log: log}
}

// Run ticks until ctx is cancelled, observing cancellation at the top of
// each iteration so an in-flight tick always finishes.
func (p *DepositPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *DepositPoller) tick(ctx context.Context) {
	pending, err := p.store.PendingByChain(ctx, p.chainID)
	if err != nil {
		p.log.Errorf("chain %d: failed to load pending swaps: %v", p.chainID, err)
		p.metrics.IncDepositPollError(p.chainID)
		return
	}
	if len(pending) == 0 {
		return
	}

	owners := make([]common.Address, len(pending))
	for i, sw := range pending {
		owners[i] = common.HexToAddress(sw.VaultAddress)
	}

	balances, err := p.reader.BatchBalances(ctx, owners)
	if err != nil {
		p.log.Errorf("chain %d: batch balance read failed: %v", p.chainID, err)
		p.metrics.IncDepositPollError(p.chainID)
		return
	}

	for i, sw := range pending {
		balance := balances[i]
		if balance.Sign() <= 0 {
			continue
		}
		// Dispatch asynchronously: the poller must never block on an
		// in-flight execution, and overlapping ticks on the same swap are
		// safe because markExecuting is status-gated.
		go p.orch.Execute(context.Background(), sw, new(big.Int).Set(balance))
	}
}
