package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the space-level operation metrics. Attach one to a Space
// with [WithMetrics] and expose it by registering with a prometheus
// registry.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates the metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stash",
				Subsystem: "space",
				Name:      "operations_total",
				Help:      "Total number of space operations",
			},
			[]string{"store", "operation"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stash",
				Subsystem: "space",
				Name:      "operation_duration_seconds",
				Help:      "Space operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),
	}
}

// Register registers all metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Operations, m.Duration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(store, operation string, d time.Duration) {
	m.Operations.WithLabelValues(store, operation).Inc()
	m.Duration.WithLabelValues(store, operation).Observe(d.Seconds())
}
