package adapter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics bundles the adapter's Prometheus instrumentation. A fresh
// registry is used (not the global default) so multiple Adapters in the
// same process, as in tests, don't collide.
type metrics struct {
	registry           *prometheus.Registry
	sessionsRegistered prometheus.Counter
	activeConnections  prometheus.Gauge
	forwardOpensOK     prometheus.Counter
	forwardOpensFailed prometheus.Counter
	cyclicPacketsSent  prometheus.Counter
	producerFaults     prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		sessionsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enip_sessions_registered_total",
			Help: "Total Register Session commands accepted.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enip_active_connections",
			Help: "Number of currently active CIP connections (0 or 1).",
		}),
		forwardOpensOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enip_forward_opens_accepted_total",
			Help: "Total Forward Open requests accepted.",
		}),
		forwardOpensFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enip_forward_opens_rejected_total",
			Help: "Total Forward Open requests rejected.",
		}),
		cyclicPacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enip_cyclic_packets_sent_total",
			Help: "Total Class-1 cyclic UDP packets sent.",
		}),
		producerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enip_producer_faults_total",
			Help: "Total Cyclic Producer send faults.",
		}),
	}
	reg.MustRegister(
		m.sessionsRegistered,
		m.activeConnections,
		m.forwardOpensOK,
		m.forwardOpensFailed,
		m.cyclicPacketsSent,
		m.producerFaults,
	)
	return m
}

// Handler returns the HTTP handler that serves this metrics set in the
// Prometheus exposition format.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
