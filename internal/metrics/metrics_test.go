package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/riftresearch/cbbtc-swapd/internal/store"
)

func TestSetSwapCountsResetsStaleLabels(t *testing.T) {
	r := New()
	r.SetSwapCounts([]store.StatusCount{{ChainID: 8453, Status: store.StatusExecuting, Count: 3}})

	metrics, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if !hasMetricFamily(metrics, "cbbtc_swapd_swaps_by_status") {
		t.Fatal("expected swaps_by_status metric family to be registered")
	}

	// A second snapshot with nothing executing should not leave the old
	// value behind for that label combination.
	r.SetSwapCounts([]store.StatusCount{{ChainID: 8453, Status: store.StatusComplete, Count: 1}})
	metrics, _ = r.Gatherer().Gather()
	for _, mf := range metrics {
		if mf.GetName() != "cbbtc_swapd_swaps_by_status" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lbl := range m.GetLabel() {
				if lbl.GetName() == "status" && lbl.GetValue() == string(store.StatusExecuting) {
					t.Error("expected stale executing label to be cleared by Reset()")
				}
			}
		}
	}
}

func TestObserveSettlementLatencyDoesNotPanic(t *testing.T) {
	r := New()
	r.ObserveSettlementLatency(8453, 42*time.Second)
}

func TestIncCountersDoNotPanic(t *testing.T) {
	r := New()
	r.IncSettlementPollError()
	r.IncDepositPollError(1)
}

func hasMetricFamily(mfs []*dto.MetricFamily, name string) bool {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}
