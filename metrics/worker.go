package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics instruments item-based workers.
type WorkerMetrics struct {
	queueLength *prometheus.GaugeVec
	items       *prometheus.CounterVec
}

func NewDefaultWorkerMetrics(pkg string) WorkerMetrics {
	metrics := WorkerMetrics{
		queueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_worker_queue_length", pkg),
				Help: "How many items are waiting to be processed, partitioned by worker.",
			},
			[]string{"worker"},
		),
		items: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_worker_items", pkg),
				Help: "How many items were processed, partitioned by worker and status.",
			},
			[]string{"worker", "status"},
		),
	}
	metrics.queueLength = registerOnce(metrics.queueLength).(*prometheus.GaugeVec)
	metrics.items = registerOnce(metrics.items).(*prometheus.CounterVec)
	return metrics
}

// QueueLength returns the gauge tracking the queue of the named worker.
func (m *WorkerMetrics) QueueLength(worker string) prometheus.Gauge {
	return m.queueLength.WithLabelValues(worker)
}

// Items returns the counter for processed items of the named worker.
func (m *WorkerMetrics) Items(worker, status string) prometheus.Counter {
	return m.items.WithLabelValues(worker, status)
}
