package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ArchiveMetrics instruments the local report archive.
type ArchiveMetrics struct {
	name string

	// Lookups against the archive, by outcome.
	reads *prometheus.CounterVec
}

type CacheReadStatus string

const (
	CacheReadStatusHit      CacheReadStatus = "hit"
	CacheReadStatusMiss     CacheReadStatus = "miss"
	CacheReadStatusBadValue CacheReadStatus = "bad_value" // Stored value could not be decoded.
	CacheReadStatusError    CacheReadStatus = "error"
)

// NewDefaultArchiveMetrics creates Prometheus metric instrumentation for
// a named local archive.
func NewDefaultArchiveMetrics(pkg, name string) ArchiveMetrics {
	metrics := ArchiveMetrics{
		name: name,
		reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_archive_reads", pkg),
				Help: "How many local archive reads occur, partitioned by archive and status (hit, miss, bad_value, error).",
			},
			[]string{"archive", "status"}, // Labels.
		),
	}
	metrics.reads = registerOnce(metrics.reads).(*prometheus.CounterVec)
	return metrics
}

// Reads returns the counter for an archive read with the given outcome.
func (m *ArchiveMetrics) Reads(status CacheReadStatus) prometheus.Counter {
	return m.reads.WithLabelValues(m.name, string(status))
}
