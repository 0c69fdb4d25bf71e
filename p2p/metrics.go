package p2p

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"lnsim/core/types"
)

// Gossip directions.
const (
	DirectionIn      = "in"
	DirectionOut     = "out"
	DirectionRelay   = "relay"
	DirectionDropped = "dropped"
)

var (
	metricsInitOnce sync.Once
	sharedMetrics   *GossipMetrics
)

// GossipMetrics counts gossip traffic in prometheus and mirrors the counts to
// the global OpenTelemetry meter.
type GossipMetrics struct {
	gossip     *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	stale      *prometheus.CounterVec

	meter         metric.Meter
	gossipCounter metric.Int64Counter
}

// Metrics returns the process-wide gossip metrics.
func Metrics() *GossipMetrics {
	metricsInitOnce.Do(func() {
		gm := &GossipMetrics{
			gossip: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "gossip",
				Name:      "messages_total",
				Help:      "Count of gossip messages by direction and type.",
			}, []string{"direction", "type"}),
			duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "gossip",
				Name:      "duplicates_total",
				Help:      "Gossip messages discarded by the dedup cache.",
			}, []string{"type"}),
			stale: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "gossip",
				Name:      "not_relayed_total",
				Help:      "Gossip messages accepted but not relayed because of age or hop limits.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(gm.gossip, gm.duplicates, gm.stale)
		gm.initMeter()
		sharedMetrics = gm
	})
	return sharedMetrics
}

func (m *GossipMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("lnsim/p2p")
	counter, err := meter.Int64Counter("lnsim.gossip.messages")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("lnsim/p2p")
		counter, _ = fallback.Int64Counter("lnsim.gossip.messages")
		meter = fallback
	}
	m.meter = meter
	m.gossipCounter = counter
}

// RecordGossip counts one message in the given direction.
func (m *GossipMetrics) RecordGossip(direction string, msgType types.MsgType) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	label := msgType.String()
	m.gossip.WithLabelValues(direction, label).Inc()
	if m.gossipCounter != nil {
		m.gossipCounter.Add(
			context.Background(),
			1,
			metric.WithAttributes(
				attribute.String("direction", direction),
				attribute.String("type", label),
			),
		)
	}
}

// RecordDuplicate counts a message suppressed by dedup.
func (m *GossipMetrics) RecordDuplicate(msgType types.MsgType) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(msgType.String()).Inc()
}

// RecordNotRelayed counts a message that reached its age or hop bound.
func (m *GossipMetrics) RecordNotRelayed(msgType types.MsgType) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(msgType.String()).Inc()
}
