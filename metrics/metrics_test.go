package metrics

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestRegisterOnceReturnsExisting(t *testing.T) {
	a := NewDefaultLedgerMetrics("metrics_test")
	b := NewDefaultLedgerMetrics("metrics_test")

	a.Operation("mint", "ok")
	b.Operation("mint", "ok")
	require.Equal(t, float64(2), counterValue(t, a.operations.WithLabelValues("mint", "ok")))
}

func TestSettledInEther(t *testing.T) {
	m := NewDefaultLedgerMetrics("metrics_test_settled")
	half := new(big.Int).Div(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), big.NewInt(2))

	m.Settled("fees", half)
	m.Settled("fees", big.NewInt(0))
	require.InDelta(t, 0.5, counterValue(t, m.settled.WithLabelValues("fees")), 1e-9)
}

func TestGauges(t *testing.T) {
	m := NewDefaultLedgerMetrics("metrics_test_gauges")
	m.SetConnected(3)
	m.SetPaused(1)
	require.Equal(t, float64(3), gaugeValue(t, m.connected))
	require.Equal(t, float64(1), gaugeValue(t, m.paused))
}

func TestWorkerMetrics(t *testing.T) {
	m := NewDefaultWorkerMetrics("metrics_test_worker")
	m.QueueLength("reports").Set(4)
	m.Items("reports", "ok").Inc()
	require.Equal(t, float64(4), gaugeValue(t, m.QueueLength("reports")))
	require.Equal(t, float64(1), counterValue(t, m.Items("reports", "ok")))
}

func TestDatabaseTrack(t *testing.T) {
	m := NewDefaultDatabaseMetrics("metrics_test_db")
	done := m.Track("inmemory", "upsert")
	done("success")
	m.Track("inmemory", "upsert")("failure")
	require.Equal(t, float64(1), counterValue(t, m.Operations("inmemory", "upsert", "success")))
	require.Equal(t, float64(1), counterValue(t, m.Operations("inmemory", "upsert", "failure")))
}

func TestRequestMetrics(t *testing.T) {
	m := NewDefaultRequestMetrics("metrics_test_api")
	m.Served("GET /v1/vaults", "success", "", time.Millisecond)
	m.Served("GET /v1/vaults", "success", "", time.Millisecond)

	// Missing labels are padded and extra ones dropped.
	m.RequestCounter("POST /v1/reports").Inc()
	m.RequestCounter("POST /v1/reports", "", "", "extra").Inc()

	require.Equal(t, float64(2), counterValue(t, m.RequestCounter("GET /v1/vaults", "success", "")))
	require.Equal(t, float64(2), counterValue(t, m.RequestCounter("POST /v1/reports", "", "")))
}
