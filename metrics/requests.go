package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Request counts are partitioned by endpoint, outcome and, for client
	// errors, the HTTP status text.
	requestLabels = []string{"endpoint", "status", "cause"}

	requestLatencyLabels = []string{"endpoint"}

	// Ledger calls settle in microseconds; slow requests are storage bound.
	requestLatencyBuckets = []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30}
)

// RequestMetrics instruments the API.
type RequestMetrics struct {
	RequestCounts    *prometheus.CounterVec
	RequestLatencies *prometheus.HistogramVec
}

func NewDefaultRequestMetrics(pkg string) RequestMetrics {
	metrics := RequestMetrics{
		RequestCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_requests", pkg),
				Help: "How many API requests were served, partitioned by endpoint, status, and cause.",
			},
			requestLabels,
		),
		RequestLatencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_request_latencies", pkg),
				Help:    "How long API requests take to serve, partitioned by endpoint.",
				Buckets: requestLatencyBuckets,
			},
			requestLatencyLabels,
		),
	}
	metrics.RequestCounts = registerOnce(metrics.RequestCounts).(*prometheus.CounterVec)
	metrics.RequestLatencies = registerOnce(metrics.RequestLatencies).(*prometheus.HistogramVec)
	return metrics
}

// RequestCounter returns the counter for the calling request.
// Provided labels should be endpoint, status, and cause; missing ones are
// left empty.
func (m *RequestMetrics) RequestCounter(labels ...string) prometheus.Counter {
	if len(labels) > len(requestLabels) {
		labels = labels[:len(requestLabels)]
	}
	labels = append(labels, make([]string, len(requestLabels)-len(labels))...)
	return m.RequestCounts.WithLabelValues(labels...)
}

// Served records one finished request.
func (m *RequestMetrics) Served(endpoint, status, cause string, latency time.Duration) {
	m.RequestCounter(endpoint, status, cause).Inc()
	m.RequestLatencies.WithLabelValues(endpoint).Observe(latency.Seconds())
}
