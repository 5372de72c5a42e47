package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records relay outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	stages   *prometheus.HistogramVec
}

// NewMetrics registers relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "requests_total",
			Help:      "Relay requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		stages: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in network-bound relay stages.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
	}
}

func (m *Metrics) outcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) stage(name string, start time.Time) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(name).Observe(time.Since(start).Seconds())
}
