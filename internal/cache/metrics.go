package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for cache traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	degraded *prometheus.CounterVec
}

// NewMetrics registers cache instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits, by namespace.",
		}, []string{"namespace"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses, by namespace.",
		}, []string{"namespace"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd",
			Subsystem: "cache",
			Name:      "degraded_ops_total",
			Help:      "Operations served by the in-process fallback, by op.",
		}, []string{"op"}),
	}
}

func (m *Metrics) Hit(ns string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(ns).Inc()
}

func (m *Metrics) Miss(ns string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(ns).Inc()
}

func (m *Metrics) Degraded(op string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(op).Inc()
}
