package uradvd

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus surface supplemented per SPEC_FULL.md, wiring
// in github.com/prometheus/client_golang the way codelaboratoryltd/bng
// (a sibling network daemon in the retrieval pack) uses it, re-exposing
// the same counters the teacher tracks in its InterfaceStatus
// (TxSolicitedRA/TxUnsolicitedRA) as first-class Prometheus metrics
// instead of a bespoke JSON status struct alone.
type Metrics struct {
	RAsSent     *prometheus.CounterVec
	RSReceived  prometheus.Counter
	RSDropped   prometheus.Counter
	InterfaceUp prometheus.Gauge
}

// NewMetrics constructs and registers the daemon's metrics on reg. Passing
// a fresh prometheus.NewRegistry() keeps tests hermetic; cmd/uradvd also
// passes its own prometheus.NewRegistry() and serves it on /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RAsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uradvd",
			Name:      "router_advertisements_sent_total",
			Help:      "Router Advertisements sent, partitioned by whether they were solicited.",
		}, []string{"solicited"}),
		RSReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uradvd",
			Name:      "router_solicitations_received_total",
			Help:      "Router Solicitations received and accepted for processing.",
		}),
		RSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uradvd",
			Name:      "router_solicitations_dropped_total",
			Help:      "Router Solicitations dropped by wire-codec validation.",
		}),
		InterfaceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "uradvd",
			Name:      "interface_ready",
			Help:      "1 if the tracked interface is ready to advertise, 0 otherwise.",
		}),
	}

	reg.MustRegister(m.RAsSent, m.RSReceived, m.RSDropped, m.InterfaceUp)

	return m
}
