package network

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type networkMetrics struct {
	messages      *prometheus.CounterVec
	undeliverable prometheus.Counter
	nodes         prometheus.Gauge
	channels      prometheus.Gauge
	capacity      prometheus.Counter
	queueDepth    prometheus.Gauge
	invoices      *prometheus.CounterVec
}

var (
	networkMetricsOnce sync.Once
	networkRegistry    *networkMetrics
)

func defaultNetworkMetrics() *networkMetrics {
	networkMetricsOnce.Do(func() {
		networkRegistry = &networkMetrics{
			messages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "messages_delivered_total",
				Help:      "Total protocol messages delivered to node inboxes by type.",
			}, []string{"type"}),
			undeliverable: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "messages_undeliverable_total",
				Help:      "Total messages addressed to a node the registry does not hold.",
			}),
			nodes: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "nodes",
				Help:      "Number of registered node agents.",
			}),
			channels: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "channels",
				Help:      "Number of confirmed channel ledgers.",
			}),
			capacity: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "capacity_sats_total",
				Help:      "Total capacity of registered channels in satoshi.",
			}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "queue_depth",
				Help:      "Point-in-time number of undelivered messages across all inboxes.",
			}),
			invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lnsim",
				Subsystem: "network",
				Name:      "invoice_events_total",
				Help:      "Generated invoice events by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			networkRegistry.messages,
			networkRegistry.undeliverable,
			networkRegistry.nodes,
			networkRegistry.channels,
			networkRegistry.capacity,
			networkRegistry.queueDepth,
			networkRegistry.invoices,
		)
	})
	return networkRegistry
}
