// Package metrics holds the Prometheus instruments shared by the gateway
// subsystems. Everything is registered once at startup through promauto and
// exposed by the HTTP surface at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Packet flow
	PacketsReceived  *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	PacketsBroadcast prometheus.Counter
	RoutedLocal      prometheus.Counter
	RoutedRemote     prometheus.Counter
	ErrorsSent       *prometheus.CounterVec

	// Codec
	DecodeFailures prometheus.Counter
	FramesDropped  prometheus.Counter
	PacketBytes    *prometheus.HistogramVec

	// Upstream connection
	RouterState      prometheus.Gauge
	RouterReconnects prometheus.Counter
	RouterFailovers  prometheus.Counter
	KeepalivesSent   prometheus.Counter

	// Service handlers
	HandlerInvocations *prometheus.CounterVec
	HandlerDuration    *prometheus.HistogramVec
	HandlerPanics      *prometheus.CounterVec
	QueueDepth         prometheus.Gauge

	// Downstream clients
	ClientsConnected prometheus.Gauge
	RPCRequests      *prometheus.CounterVec
	RPCRateLimited   prometheus.Counter
	EventsPublished  *prometheus.CounterVec

	// State store
	SessionsActive prometheus.Gauge
	MudsOnline     prometheus.Gauge
}

// New creates and registers all gateway metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a specific registerer. Tests pass a
// fresh prometheus.NewRegistry to avoid duplicate registration.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_packets_received_total",
				Help: "Packets received from the I3 router by type tag",
			},
			[]string{"type"},
		),
		PacketsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_packets_sent_total",
				Help: "Packets sent to the I3 router by type tag",
			},
			[]string{"type"},
		),
		PacketsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_packets_dropped_total",
				Help: "Packets dropped before delivery",
			},
			[]string{"reason"}, // ttl_expired, unknown_mud, queue_full, decode
		),
		PacketsBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_packets_broadcast_total",
				Help: "Broadcast packets processed",
			},
		),
		RoutedLocal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_routed_local_total",
				Help: "Packets routed to local service handlers",
			},
		),
		RoutedRemote: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_routed_remote_total",
				Help: "Packets forwarded to remote muds via the router",
			},
		),
		ErrorsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_errors_sent_total",
				Help: "I3 error packets generated by this gateway",
			},
			[]string{"code"}, // unk-dst, unk-type, unk-user, not-imp, ...
		),
		DecodeFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_decode_failures_total",
				Help: "LPC payloads that failed to decode",
			},
		),
		FramesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_frames_dropped_total",
				Help: "MudMode frames discarded by the framer",
			},
		),
		PacketBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "i3_packet_bytes",
				Help:    "Encoded packet sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"direction"}, // in, out
		),
		RouterState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "i3_router_state",
				Help: "Upstream connection state (0=disconnected through 5=closing)",
			},
		),
		RouterReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_router_reconnects_total",
				Help: "Reconnection attempts to I3 routers",
			},
		),
		RouterFailovers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_router_failovers_total",
				Help: "Failovers to a lower-priority router",
			},
		),
		KeepalivesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_keepalives_sent_total",
				Help: "Keepalive probes sent upstream",
			},
		),
		HandlerInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_handler_invocations_total",
				Help: "Service handler invocations by service and outcome",
			},
			[]string{"service", "outcome"}, // ok, error, rejected
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "i3_handler_duration_seconds",
				Help:    "Service handler execution time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		HandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_handler_panics_total",
				Help: "Panics recovered in service handlers",
			},
			[]string{"service"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "i3_dispatch_queue_depth",
				Help: "Packets waiting in the dispatch queue",
			},
		),
		ClientsConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "i3_clients_connected",
				Help: "Downstream JSON-RPC clients currently connected",
			},
		),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_rpc_requests_total",
				Help: "JSON-RPC requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RPCRateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "i3_rpc_rate_limited_total",
				Help: "JSON-RPC requests rejected by the rate limiter",
			},
		),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "i3_events_published_total",
				Help: "Events published to downstream subscribers",
			},
			[]string{"type"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "i3_sessions_active",
				Help: "Live user sessions in the state store",
			},
		),
		MudsOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "i3_muds_online",
				Help: "Muds currently marked up in the mudlist",
			},
		),
	}
}

// RecordReceived counts an inbound packet and its size.
func (m *Metrics) RecordReceived(typeTag string, bytes int) {
	m.PacketsReceived.WithLabelValues(typeTag).Inc()
	m.PacketBytes.WithLabelValues("in").Observe(float64(bytes))
}

// RecordSent counts an outbound packet and its size.
func (m *Metrics) RecordSent(typeTag string, bytes int) {
	m.PacketsSent.WithLabelValues(typeTag).Inc()
	m.PacketBytes.WithLabelValues("out").Observe(float64(bytes))
}

// RecordDropped counts a dropped packet by reason.
func (m *Metrics) RecordDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordHandler records one handler invocation.
func (m *Metrics) RecordHandler(service, outcome string, seconds float64) {
	m.HandlerInvocations.WithLabelValues(service, outcome).Inc()
	m.HandlerDuration.WithLabelValues(service).Observe(seconds)
}
