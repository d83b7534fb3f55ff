// Package metrics exposes process-wide Prometheus counters and gauges
// (spec.md §4.4.6: "Process-wide counters for each [failure code] are
// exposed to the status endpoint"; ambient concern carried regardless of
// spec.md's Non-goals, per SPEC_FULL.md).
//
// Adapted from the teacher's internal/metrics/metrics.go: same
// package-level var block + init()-time MustRegister + promhttp.Handler
// shape, renamed from the "p2pool" namespace/gauges to "netcoin" and
// this node's own metric set.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netcoin/internal/chain"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netcoin",
		Name:      "chain_height",
		Help:      "Current main-chain height.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netcoin",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	MempoolCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netcoin",
		Name:      "mempool_count",
		Help:      "Number of transactions currently in the mempool.",
	})

	MempoolBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netcoin",
		Name:      "mempool_bytes",
		Help:      "Total encoded byte size of the mempool.",
	})

	BlocksMined = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netcoin",
		Name:      "blocks_mined_total",
		Help:      "Total blocks mined by this node.",
	})

	BlocksAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netcoin",
		Name:      "blocks_accepted_total",
		Help:      "Total peer blocks accepted onto the main chain.",
	})

	ReorgsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netcoin",
		Name:      "reorgs_applied_total",
		Help:      "Total successful chain reorganizations.",
	})

	// ValidationRejections is keyed by chain.FailureCode (spec.md
	// §4.4.6's closed taxonomy), one counter per code.
	ValidationRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netcoin",
		Name:      "validation_rejections_total",
		Help:      "Block/transaction validation rejections by failure code.",
	}, []string{"code"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netcoin",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		PeersConnected,
		MempoolCount,
		MempoolBytes,
		BlocksMined,
		BlocksAccepted,
		ReorgsApplied,
		ValidationRejections,
		UptimeSeconds,
	)
}

// RecordRejection increments the rejection counter for a validation
// failure code. Safe to call with a nil err (a no-op).
func RecordRejection(err *chain.ValidationError) {
	if err == nil {
		return
	}
	ValidationRejections.WithLabelValues(string(err.Code)).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
