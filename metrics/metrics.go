// Package metrics exposes Prometheus instrumentation for disk management
// operations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the subsystem's collectors. All operation paths share one
// counter and one histogram, labelled by operation name.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	localDevices      prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diskman",
			Name:      "operations_total",
			Help:      "Disk management operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "diskman",
			Name:      "operation_duration_seconds",
			Help:      "Duration of disk management operations.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		localDevices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "diskman",
			Name:      "local_devices",
			Help:      "Local block devices seen by the most recent listing.",
		}),
	}
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetLocalDevices updates the device count gauge after a listing.
func (m *Metrics) SetLocalDevices(n int) {
	m.localDevices.Set(float64(n))
}
