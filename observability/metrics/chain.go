package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ChainMetrics tracks block production and mempool congestion.
type ChainMetrics struct {
	height       prometheus.Gauge
	blocksMined  prometheus.Counter
	blockWeight  prometheus.Histogram
	blockTxs     prometheus.Histogram
	mempoolBytes *prometheus.GaugeVec
	submitted    *prometheus.CounterVec
}

var (
	chainOnce     sync.Once
	chainRegistry *ChainMetrics
)

// Chain returns the lazily-initialised chain metrics registry.
func Chain() *ChainMetrics {
	chainOnce.Do(func() {
		chainRegistry = &ChainMetrics{
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lnsim",
				Subsystem: "chain",
				Name:      "height",
				Help:      "Height of the most recently mined block.",
			}),
			blocksMined: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "chain",
				Name:      "blocks_mined_total",
				Help:      "Count of blocks produced by the simulated chain.",
			}),
			blockWeight: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lnsim",
				Subsystem: "chain",
				Name:      "block_weight_vbytes",
				Help:      "Distribution of block weight in vbytes.",
				Buckets:   prometheus.ExponentialBuckets(1_000, 2, 12),
			}),
			blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lnsim",
				Subsystem: "chain",
				Name:      "block_transactions",
				Help:      "Distribution of transaction count per block.",
				Buckets:   prometheus.LinearBuckets(0, 5, 10),
			}),
			mempoolBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lnsim",
				Subsystem: "mempool",
				Name:      "outstanding_vbytes",
				Help:      "Outstanding pending vbytes segmented by fee band.",
			}, []string{"band"}),
			submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "mempool",
				Name:      "submitted_total",
				Help:      "Count of transactions admitted to the mempool by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			chainRegistry.height,
			chainRegistry.blocksMined,
			chainRegistry.blockWeight,
			chainRegistry.blockTxs,
			chainRegistry.mempoolBytes,
			chainRegistry.submitted,
		)
	})
	return chainRegistry
}

// ObserveBlock records a freshly mined block and the post-block congestion.
func (m *ChainMetrics) ObserveBlock(height uint64, weight int64, txs int, bands map[string]int64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
	m.blocksMined.Inc()
	m.blockWeight.Observe(float64(weight))
	m.blockTxs.Observe(float64(txs))
	for band, bytes := range bands {
		m.mempoolBytes.WithLabelValues(band).Set(float64(bytes))
	}
}

// RecordSubmit increments the admission counter for a transaction type.
func (m *ChainMetrics) RecordSubmit(txType string) {
	if m == nil {
		return
	}
	if txType == "" {
		txType = "unknown"
	}
	m.submitted.WithLabelValues(txType).Inc()
}
