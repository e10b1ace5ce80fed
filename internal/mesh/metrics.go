package mesh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for mesh traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	agents        prometheus.Gauge
	sent          *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	inflight      prometheus.Gauge
	handleSeconds *prometheus.HistogramVec
}

// NewMetrics registers mesh instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		agents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "agents",
			Help:      "Number of currently registered agents.",
		}),
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "messages_sent_total",
			Help:      "Messages accepted into an inbox, by type.",
		}, []string{"type"}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "messages_delivered_total",
			Help:      "Messages handled by an agent, by type.",
		}, []string{"type"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped on full or closed inboxes, by type.",
		}, []string{"type"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "messages_inflight",
			Help:      "Messages enqueued but not yet handled.",
		}),
		handleSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "meshd",
			Subsystem: "mesh",
			Name:      "handle_duration_seconds",
			Help:      "Handler execution time, by message type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

func (m *Metrics) AgentRegistered() {
	if m == nil {
		return
	}
	m.agents.Inc()
}

func (m *Metrics) AgentDeregistered() {
	if m == nil {
		return
	}
	m.agents.Dec()
}

func (m *Metrics) MessageSent(typ string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(typ).Inc()
	m.inflight.Inc()
}

func (m *Metrics) MessageDelivered(typ string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(typ).Inc()
	m.inflight.Dec()
	m.handleSeconds.WithLabelValues(typ).Observe(elapsed.Seconds())
}

// MessageDropped records a message refused at enqueue time.
func (m *Metrics) MessageDropped(typ string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(typ).Inc()
}

// MessageDiscarded records a message that was enqueued but thrown away
// unhandled when its recipient deregistered.
func (m *Metrics) MessageDiscarded(typ string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(typ).Inc()
	m.inflight.Dec()
}
