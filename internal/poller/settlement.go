package poller

import (
	"context"
	"math/big"
	"time"

	"github.com/riftresearch/cbbtc-swapd/internal/metrics"
	"github.com/riftresearch/cbbtc-swapd/internal/orderbook"
	"github.com/riftresearch/cbbtc-swapd/internal/store"
	"github.com/riftresearch/cbbtc-swapd/pkg/logging"
)

// stuckExecutingGrace is how long an executing row may sit with no order
// UID before the sweep treats it as an execution failure and transitions it
// to failed, rather than leaving it permanently invisible to the settlement
// sweep.
const stuckExecutingGrace = 10 * time.Minute

// SettlementStore is the subset of persistence SettlementPoller needs:
// expiring overdue swaps, loading executing ones, and recording the
// reconciled outcome.
type SettlementStore interface {
	ExpireOverdue(ctx context.Context) (int64, error)
	CountsByStatusAndChain(ctx context.Context) ([]store.StatusCount, error)
	Executing(ctx context.Context) ([]*store.Swap, error)
	StuckExecuting(ctx context.Context, grace time.Duration) ([]*store.Swap, error)
	UpdateOrderStatus(ctx context.Context, swapID, orderStatus, txHash string, buyAmount *big.Int) error
	MarkFailed(ctx context.Context, swapID, reason string) error
}

// Book is the orderbook lookups SettlementPoller needs to reconcile a
// submitted order's status and, once fulfilled, its settling trade.
// Satisfied by *orderbook.Client.
type Book interface {
	OrderStatusLookup(ctx context.Context, chainID uint64, uid string) (*orderbook.StatusResult, error)
	Trades(ctx context.Context, chainID uint64, uid string) ([]orderbook.Trade, error)
}

// SettlementPoller reconciles executing swaps against the orderbook and
// expires overdue pending deposits, once per tick.
type SettlementPoller struct {
	interval time.Duration
	store    SettlementStore
	book     Book
	metrics  *metrics.Registry
	log      *logging.Logger
}

// NewSettlementPoller builds the single process-wide settlement sweep.
func NewSettlementPoller(interval time.Duration, st SettlementStore, book Book, m *metrics.Registry, log *logging.Logger) *SettlementPoller {
	return &SettlementPoller{interval: interval, store: st, book: book, metrics: m, log: log}
}

// Run ticks until ctx is cancelled.
func (p *SettlementPoller) Run(ctx context.Context) {
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

func (p *SettlementPoller) tick(ctx context.Context) {
	if n, err := p.store.ExpireOverdue(ctx); err != nil {
		p.log.Errorf("expireOverdue failed: %v", err)
	} else if n > 0 {
		p.log.Infof("expired %d overdue pending_deposit swaps", n)
	}

	p.refreshGauges(ctx)
	p.sweepExecuting(ctx)
	p.sweepStuckExecuting(ctx)
}

func (p *SettlementPoller) refreshGauges(ctx context.Context) {
	counts, err := p.store.CountsByStatusAndChain(ctx)
	if err != nil {
		p.log.Errorf("countsByStatusAndChain failed: %v", err)
		return
	}
	p.metrics.SetSwapCounts(counts)
}

func (p *SettlementPoller) sweepExecuting(ctx context.Context) {
	executing, err := p.store.Executing(ctx)
	if err != nil {
		p.log.Errorf("failed to load executing swaps: %v", err)
		return
	}

	for _, sw := range executing {
		if !sw.CowOrderUID.Valid || sw.CowOrderUID.String == "" {
			continue // no UID yet; handled by sweepStuckExecuting once past grace
		}
		if err := p.reconcile(ctx, sw); err != nil {
			p.log.Warnf("swap %s: reconcile failed: %v", sw.SwapID, err)
			p.metrics.IncSettlementPollError()
		}
	}
}

func (p *SettlementPoller) reconcile(ctx context.Context, sw *store.Swap) error {
	uid := sw.CowOrderUID.String
	status, err := p.book.OrderStatusLookup(ctx, sw.ChainID, uid)
	if err != nil {
		return err
	}

	switch status.Status {
	case orderbook.OrderFulfilled:
		trades, err := p.book.Trades(ctx, sw.ChainID, uid)
		if err != nil {
			return err
		}
		if len(trades) == 0 {
			return nil // settled but not yet indexed; retry next tick
		}
		trade := trades[0]
		if err := p.store.UpdateOrderStatus(ctx, sw.SwapID, "FULFILLED", trade.TxHash, trade.BuyAmount); err != nil {
			return err
		}
		p.metrics.ObserveSettlementLatency(sw.ChainID, time.Since(sw.CreatedAt))
		return nil
	case orderbook.OrderExpired:
		return p.store.UpdateOrderStatus(ctx, sw.SwapID, "EXPIRED", "", nil)
	case orderbook.OrderCancelled:
		return p.store.UpdateOrderStatus(ctx, sw.SwapID, "CANCELLED", "", nil)
	default: // OPEN, PRESIGNATURE_PENDING
		return p.store.UpdateOrderStatus(ctx, sw.SwapID, string(status.Status), "", nil)
	}
}

// sweepStuckExecuting treats an executing row with no order UID that has
// sat past the grace window as an execution failure rather than leaving it
// silently stuck forever.
func (p *SettlementPoller) sweepStuckExecuting(ctx context.Context) {
	stuck, err := p.store.StuckExecuting(ctx, stuckExecutingGrace)
	if err != nil {
		p.log.Errorf("stuckExecuting query failed: %v", err)
		return
	}
	for _, sw := range stuck {
		reason := "execution stalled before order submission completed"
		if err := p.store.MarkFailed(ctx, sw.SwapID, reason); err != nil && err != store.ErrNoProgress {
			p.log.Errorf("swap %s: failed to mark stuck-executing as failed: %v", sw.SwapID, err)
		}
	}
}
