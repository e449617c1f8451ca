// Package metrics holds the Prometheus registry exposed at /metrics as an
// injected holder passed to constructors, rather than package-level
// globals.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/riftresearch/cbbtc-swapd/internal/store"
)

// Registry bundles every metric this system exposes behind one injectable
// handle, constructed once at startup and threaded through the pollers and
// HTTP server.
type Registry struct {
	reg *prometheus.Registry

	swapsByStatus       *prometheus.GaugeVec
	settlementLatency   *prometheus.HistogramVec
	settlementPollErrs  prometheus.Counter
	depositPollErrs     *prometheus.CounterVec
}

// New constructs and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		swapsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cbbtc_swapd",
			Name:      "swaps_by_status",
			Help:      "Current count of swap rows by chain and status.",
		}, []string{"chain_id", "status"}),
		settlementLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cbbtc_swapd",
			Name:      "settlement_latency_seconds",
			Help:      "Time from swap creation to settlement completion.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // ~1s..~2h20m
		}, []string{"chain_id"}),
		settlementPollErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cbbtc_swapd",
			Name:      "settlement_poll_errors_total",
			Help:      "Count of per-swap reconcile failures in the settlement sweep.",
		}),
		depositPollErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cbbtc_swapd",
			Name:      "deposit_poll_errors_total",
			Help:      "Count of deposit-poller tick failures, by chain.",
		}, []string{"chain_id"}),
	}

	reg.MustRegister(r.swapsByStatus, r.settlementLatency, r.settlementPollErrs, r.depositPollErrs)
	return r
}

// Gatherer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// SetSwapCounts replaces the swaps_by_status gauge with a fresh snapshot.
// The gauge is reset first so chain/status combinations that have dropped
// to zero don't linger at their last observed value.
func (r *Registry) SetSwapCounts(counts []store.StatusCount) {
	r.swapsByStatus.Reset()
	for _, c := range counts {
		r.swapsByStatus.WithLabelValues(fmt.Sprintf("%d", c.ChainID), string(c.Status)).Set(float64(c.Count))
	}
}

// ObserveSettlementLatency records the time from swap creation to settlement.
func (r *Registry) ObserveSettlementLatency(chainID uint64, d time.Duration) {
	r.settlementLatency.WithLabelValues(fmt.Sprintf("%d", chainID)).Observe(d.Seconds())
}

// IncSettlementPollError counts one failed per-swap reconcile attempt.
func (r *Registry) IncSettlementPollError() {
	r.settlementPollErrs.Inc()
}

// IncDepositPollError counts one failed deposit-poller tick for a chain.
func (r *Registry) IncDepositPollError(chainID uint64) {
	r.depositPollErrs.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
}
