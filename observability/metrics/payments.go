package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks HTLC resolution, payment outcomes and route discards.
type PaymentMetrics struct {
	htlcs     *prometheus.CounterVec
	payments  *prometheus.CounterVec
	discards  *prometheus.CounterVec
	fatal     *prometheus.CounterVec
	attempts  prometheus.Histogram
	feesPaid  prometheus.Counter
	forwarded prometheus.Counter
}

var (
	paymentsOnce     sync.Once
	paymentsRegistry *PaymentMetrics
)

// Payments returns the lazily-initialised payment metrics registry.
func Payments() *PaymentMetrics {
	paymentsOnce.Do(func() {
		paymentsRegistry = &PaymentMetrics{
			htlcs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "htlc",
				Name:      "resolved_total",
				Help:      "Count of resolved HTLC legs segmented by outcome and failure reason.",
			}, []string{"outcome", "reason"}),
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "payments",
				Name:      "outcomes_total",
				Help:      "Count of invoice payment outcomes at the sender.",
			}, []string{"outcome"}),
			discards: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "payments",
				Name:      "path_discards_total",
				Help:      "Candidate paths discarded before an attempt, by cause.",
			}, []string{"cause"}),
			fatal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "engine",
				Name:      "invariant_violations_total",
				Help:      "Engine-invariant violations that aborted a unit of work.",
			}, []string{"component"}),
			attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "lnsim",
				Subsystem: "payments",
				Name:      "attempts_per_invoice",
				Help:      "Number of routing attempts made per invoice.",
				Buckets:   prometheus.LinearBuckets(0, 1, 10),
			}),
			feesPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "payments",
				Name:      "fees_paid_sat_total",
				Help:      "Routing fees paid by senders of successful payments.",
			}),
			forwarded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "htlc",
				Name:      "forwarded_total",
				Help:      "Count of HTLCs forwarded by intermediate nodes.",
			}),
		}
		prometheus.MustRegister(
			paymentsRegistry.htlcs,
			paymentsRegistry.payments,
			paymentsRegistry.discards,
			paymentsRegistry.fatal,
			paymentsRegistry.attempts,
			paymentsRegistry.feesPaid,
			paymentsRegistry.forwarded,
		)
	})
	return paymentsRegistry
}

// RecordHTLC counts a resolved HTLC leg.
func (m *PaymentMetrics) RecordHTLC(outcome, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.htlcs.WithLabelValues(outcome, reason).Inc()
}

// RecordForward counts an HTLC forwarded to the next hop.
func (m *PaymentMetrics) RecordForward() {
	if m == nil {
		return
	}
	m.forwarded.Inc()
}

// RecordPayment counts a terminal invoice outcome at the sender.
func (m *PaymentMetrics) RecordPayment(outcome string, attempts int, fees int64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(outcome).Inc()
	m.attempts.Observe(float64(attempts))
	if fees > 0 {
		m.feesPaid.Add(float64(fees))
	}
}

// RecordDiscard counts a candidate path rejected before an attempt.
func (m *PaymentMetrics) RecordDiscard(cause string) {
	if m == nil {
		return
	}
	m.discards.WithLabelValues(cause).Inc()
}

// RecordInvariant counts an aborted unit of work.
func (m *PaymentMetrics) RecordInvariant(component string) {
	if m == nil {
		return
	}
	if component == "" {
		component = "unknown"
	}
	m.fatal.WithLabelValues(component).Inc()
}
