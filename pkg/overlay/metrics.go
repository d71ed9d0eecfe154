package overlay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all custom agentswarm Prometheus metrics. It uses an
// isolated prometheus.Registry so these metrics don't collide with the
// global default registry. One instance may be shared by several peers in
// the same process, as the workspace command does.
type Metrics struct {
	Registry *prometheus.Registry

	// Discovery
	PeersDiscoveredTotal *prometheus.CounterVec
	PeersExpiredTotal    *prometheus.CounterVec

	// Rendezvous
	RendezvousRegistrationsTotal *prometheus.CounterVec
	RendezvousDiscoverTotal      *prometheus.CounterVec

	// Gossip
	GossipPublishedTotal *prometheus.CounterVec
	GossipReceivedTotal  *prometheus.CounterVec

	// Agent handler
	HandlerInvocationsTotal *prometheus.CounterVec

	// Peer runtime
	ReconnectAttemptsTotal *prometheus.CounterVec
	PingRTTSeconds         *prometheus.HistogramVec

	// Build info
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all collectors registered
// on an isolated registry. version and goVersion are recorded as labels on
// the agentswarm_info gauge.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		PeersDiscoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_peers_discovered_total",
				Help: "Total number of peers discovered, by discovery method.",
			},
			[]string{"method"},
		),
		PeersExpiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_peers_expired_total",
				Help: "Total number of peers declared expired after failed liveness probes.",
			},
			[]string{"reason"},
		),

		RendezvousRegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_rendezvous_registrations_total",
				Help: "Total number of rendezvous registration attempts, by result.",
			},
			[]string{"result"},
		),
		RendezvousDiscoverTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_rendezvous_discover_total",
				Help: "Total number of rendezvous discover requests, by result.",
			},
			[]string{"result"},
		),

		GossipPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_gossip_published_total",
				Help: "Total number of messages published to the gossip topic.",
			},
			[]string{"topic"},
		),
		GossipReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_gossip_received_total",
				Help: "Total number of messages received from the gossip topic.",
			},
			[]string{"topic"},
		),

		HandlerInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_handler_invocations_total",
				Help: "Total number of agent message handler invocations, by result.",
			},
			[]string{"result"},
		),

		ReconnectAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentswarm_reconnect_attempts_total",
				Help: "Total number of reconnect attempts by a member peer, by rendezvous loop (register or discover).",
			},
			[]string{"loop"},
		),
		PingRTTSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentswarm_ping_rtt_seconds",
				Help:    "Round-trip time of liveness pings.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentswarm_info",
				Help: "Build information for the running agentswarm instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.PeersDiscoveredTotal,
		m.PeersExpiredTotal,
		m.RendezvousRegistrationsTotal,
		m.RendezvousDiscoverTotal,
		m.GossipPublishedTotal,
		m.GossipReceivedTotal,
		m.HandlerInvocationsTotal,
		m.ReconnectAttemptsTotal,
		m.PingRTTSeconds,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// IncRegistration implements rendezvous.Metrics.
func (m *Metrics) IncRegistration(result string) {
	m.RendezvousRegistrationsTotal.WithLabelValues(result).Inc()
}

// IncDiscover implements rendezvous.Metrics.
func (m *Metrics) IncDiscover(result string) {
	m.RendezvousDiscoverTotal.WithLabelValues(result).Inc()
}

// IncReconnectAttempt implements rendezvous.Metrics.
func (m *Metrics) IncReconnectAttempt(loop string) {
	m.ReconnectAttemptsTotal.WithLabelValues(loop).Inc()
}
