// File: internal/infra/metrics/ledger.go
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"

	"blobsubnet/internal/domain/model"
)

func init() {
	register(
		capacityBytes,
		creditTotals,
		accountsTotal,
		blobsTotal,
		debitTickDuration,
	)
}

var (
	capacityBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capacity_bytes",
			Help: "Subnet storage capacity in bytes, labeled by kind.",
		},
		[]string{"kind"}, // 'used', 'free'
	)

	creditTotals = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credit_totals",
			Help: "Running credit totals tracked by the ledger core.",
		},
		[]string{"kind"}, // 'sold', 'committed', 'debited'
	)

	accountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accounts_total",
			Help: "Number of accounts known to the ledger.",
		},
	)

	blobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blobs_total",
			Help: "Number of blobs known to the ledger, labeled by ingestion state.",
		},
		[]string{"state"}, // 'all', 'added', 'resolving'
	)

	debitTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "debit_tick_duration_ms",
			Help:    "Duration of each debit_accounts accounting tick in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
)

// SetLedgerStats publishes one GetStats() snapshot to the registered gauges.
func SetLedgerStats(stats model.Stats) {
	capacityBytes.WithLabelValues("used").Set(bigToFloat(stats.CapacityUsed))
	capacityBytes.WithLabelValues("free").Set(bigToFloat(stats.CapacityFree))
	creditTotals.WithLabelValues("sold").Set(bigToFloat(stats.CreditSold))
	creditTotals.WithLabelValues("committed").Set(bigToFloat(stats.CreditCommitted))
	creditTotals.WithLabelValues("debited").Set(bigToFloat(stats.CreditDebited))
	accountsTotal.Set(float64(stats.NumAccounts))
	blobsTotal.WithLabelValues("all").Set(float64(stats.NumBlobs))
	blobsTotal.WithLabelValues("added").Set(float64(stats.NumAdded))
	blobsTotal.WithLabelValues("resolving").Set(float64(stats.NumResolving))
}

// ObserveDebitTick records how long one accounting tick took.
func ObserveDebitTick(ms float64) {
	debitTickDuration.Observe(ms)
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}
