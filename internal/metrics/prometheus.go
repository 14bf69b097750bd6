package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a voicelink client
type Metrics struct {
	registry *prometheus.Registry

	// Node connection metrics
	NodePhase         *prometheus.GaugeVec
	NodeReconnects    *prometheus.CounterVec
	NodeFailures      *prometheus.CounterVec
	CommandsSent      *prometheus.CounterVec
	EventsReceived    *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	QueueOverflows    *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	HeartbeatFailures *prometheus.CounterVec

	// Pool metrics
	Players       *prometheus.GaugeVec
	Failovers     *prometheus.CounterVec
	EventsDropped prometheus.Counter

	// REST metrics
	RESTRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them on a private registry,
// so several clients can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		NodePhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "phase",
			Help:      "Current connection phase of each node (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 closed)",
		}, []string{"node_id"}),
		NodeReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts per node",
		}, []string{"node_id"}),
		NodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "failures_total",
			Help:      "Total number of times a node crossed the fatal reconnect threshold",
		}, []string{"node_id"}),
		CommandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "commands_sent_total",
			Help:      "Total number of command frames written to a node",
		}, []string{"node_id", "op"}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "events_received_total",
			Help:      "Total number of event frames decoded from a node",
		}, []string{"node_id", "op"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "decode_errors_total",
			Help:      "Total number of frames discarded because they could not be decoded",
		}, []string{"node_id", "kind"}),
		QueueOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "queue",
			Name:      "overflows_total",
			Help:      "Total number of pending commands dropped because the queue was full",
		}, []string{"node_id"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voicelink",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of commands waiting to be written to each node",
		}, []string{"node_id"}),
		HeartbeatFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "node",
			Name:      "heartbeat_failures_total",
			Help:      "Total number of pings that could not be written",
		}, []string{"node_id"}),

		Players: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voicelink",
			Subsystem: "pool",
			Name:      "players",
			Help:      "Number of guild players assigned to each node",
		}, []string{"node_id"}),
		Failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "pool",
			Name:      "failovers_total",
			Help:      "Total number of guild reassignments after a node failure, by result",
		}, []string{"result"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "voicelink",
			Subsystem: "pool",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because the consumer did not drain the stream",
		}),

		RESTRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voicelink",
			Subsystem: "rest",
			Name:      "request_duration_seconds",
			Help:      "Histogram of REST request durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
	}
}

// Registry returns the registry all metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetNodePhase records the current phase of a node
func (m *Metrics) SetNodePhase(nodeID string, phase int) {
	m.NodePhase.WithLabelValues(nodeID).Set(float64(phase))
}

// RecordReconnect records a reconnect attempt
func (m *Metrics) RecordReconnect(nodeID string) {
	m.NodeReconnects.WithLabelValues(nodeID).Inc()
}

// RecordNodeFailure records a node crossing the fatal threshold
func (m *Metrics) RecordNodeFailure(nodeID string) {
	m.NodeFailures.WithLabelValues(nodeID).Inc()
}

// RecordCommandSent records a command frame written to a node
func (m *Metrics) RecordCommandSent(nodeID, op string) {
	m.CommandsSent.WithLabelValues(nodeID, op).Inc()
}

// RecordEventReceived records a decoded event frame
func (m *Metrics) RecordEventReceived(nodeID, op string) {
	m.EventsReceived.WithLabelValues(nodeID, op).Inc()
}

// RecordDecodeError records a discarded frame
func (m *Metrics) RecordDecodeError(nodeID, kind string) {
	m.DecodeErrors.WithLabelValues(nodeID, kind).Inc()
}

// RecordQueueOverflow records a dropped pending command
func (m *Metrics) RecordQueueOverflow(nodeID string) {
	m.QueueOverflows.WithLabelValues(nodeID).Inc()
}

// SetQueueDepth records the pending queue length of a node
func (m *Metrics) SetQueueDepth(nodeID string, depth int) {
	m.QueueDepth.WithLabelValues(nodeID).Set(float64(depth))
}

// RecordHeartbeatFailure records a failed ping
func (m *Metrics) RecordHeartbeatFailure(nodeID string) {
	m.HeartbeatFailures.WithLabelValues(nodeID).Inc()
}

// SetPlayers records the number of players assigned to a node
func (m *Metrics) SetPlayers(nodeID string, count int) {
	m.Players.WithLabelValues(nodeID).Set(float64(count))
}

// RecordFailover records the outcome of one guild reassignment
func (m *Metrics) RecordFailover(result string) {
	m.Failovers.WithLabelValues(result).Inc()
}

// RecordEventDropped records an event the consumer did not pick up in time
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// RecordRESTRequest records a REST request
func (m *Metrics) RecordRESTRequest(endpoint, status string, duration time.Duration) {
	m.RESTRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}
