package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseMetrics instruments storage backend calls.
type DatabaseMetrics struct {
	operations *prometheus.CounterVec
	latencies  *prometheus.HistogramVec
}

// NewDefaultDatabaseMetrics creates the counters and latency histograms
// for storage calls, partitioned by backend and operation.
func NewDefaultDatabaseMetrics(pkg string) DatabaseMetrics {
	m := DatabaseMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_db_operations", pkg),
				Help: "How many database operations occur, partitioned by backend, operation and status.",
			},
			[]string{"backend", "operation", "status"},
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_db_latencies", pkg),
				Help: "How long database operations take, partitioned by backend and operation.",
			},
			[]string{"backend", "operation"},
		),
	}
	m.operations = registerOnce(m.operations).(*prometheus.CounterVec)
	m.latencies = registerOnce(m.latencies).(*prometheus.HistogramVec)
	return m
}

// Track starts timing an operation. The returned function records its
// latency and counts it under the given status.
func (m *DatabaseMetrics) Track(backend, operation string) func(status string) {
	timer := prometheus.NewTimer(m.latencies.WithLabelValues(backend, operation))
	return func(status string) {
		timer.ObserveDuration()
		m.operations.WithLabelValues(backend, operation, status).Inc()
	}
}

// Operations returns the counter of backend operations with the given status.
func (m *DatabaseMetrics) Operations(backend, operation, status string) prometheus.Counter {
	return m.operations.WithLabelValues(backend, operation, status)
}
