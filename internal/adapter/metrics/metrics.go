// Package metrics contains the [domain.Metrics] implementations: a no-op
// recorder used by default and a Prometheus one.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}

// Nop implements [domain.Metrics] by discarding everything.
type Nop struct{}

// NewNop returns a [domain.Metrics] that records nothing.
func NewNop() domain.Metrics { return Nop{} }

// ObserveOperation implements [domain.Metrics].
func (Nop) ObserveOperation(string, string, time.Duration, error) {}

// Conflict implements [domain.Metrics].
func (Nop) Conflict(string, string) {}

// Prometheus implements [domain.Metrics] with Prometheus collectors.
type Prometheus struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
}

// NewPrometheus creates the collectors of a [domain.Metrics] and registers
// them in reg. Metric names are prefixed with namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	m := &Prometheus{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "collection", "success"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Database operation latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"operation", "collection"}),

		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_conflicts_total",
			Help:      "Total number of optimistic write failures",
		}, []string{"collection", "cause"}),
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.conflicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveOperation implements [domain.Metrics].
func (m *Prometheus) ObserveOperation(operation, collection string, d time.Duration, err error) {
	m.operations.WithLabelValues(operation, collection, boolToStr(err == nil)).Inc()
	m.duration.WithLabelValues(operation, collection).Observe(d.Seconds())
}

// Conflict implements [domain.Metrics].
func (m *Prometheus) Conflict(collection, cause string) {
	m.conflicts.WithLabelValues(collection, cause).Inc()
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

var _ domain.Metrics = (*Prometheus)(nil)
