package metrics

import (
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics instruments the vault hub.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	settled    *prometheus.CounterVec
	connected  prometheus.Gauge
	paused     prometheus.Gauge
}

// NewDefaultLedgerMetrics creates Prometheus metric instrumentation for
// ledger activity:
//
// 1. Counts of ledger operations by outcome.
// 2. Amounts settled to each creditor.
// 3. Number of connected vaults and of vaults with deposits paused.
func NewDefaultLedgerMetrics(pkg string) LedgerMetrics {
	metrics := LedgerMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_ledger_operations", pkg),
				Help: "How many ledger operations occur, partitioned by operation and status.",
			},
			[]string{"operation", "status"},
		),
		settled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_ledger_settled_ether", pkg),
				Help: "Amount settled by vaults in ether, partitioned by obligation.",
			},
			[]string{"obligation"},
		),
		connected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_ledger_vaults_connected", pkg),
				Help: "Number of vaults with a ledger record.",
			},
		),
		paused: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_ledger_vaults_deposits_paused", pkg),
				Help: "Number of vaults whose beacon chain deposits are paused.",
			},
		),
	}
	metrics.operations = registerOnce(metrics.operations).(*prometheus.CounterVec)
	metrics.settled = registerOnce(metrics.settled).(*prometheus.CounterVec)
	metrics.connected = registerOnce(metrics.connected).(prometheus.Gauge)
	metrics.paused = registerOnce(metrics.paused).(prometheus.Gauge)
	return metrics
}

// Operation counts one ledger operation.
func (m *LedgerMetrics) Operation(op, status string) {
	m.operations.WithLabelValues(op, status).Inc()
}

// Settled records an amount settled towards an obligation.
func (m *LedgerMetrics) Settled(obligation string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	m.settled.WithLabelValues(obligation).Add(weiToEther(amount))
}

func (m *LedgerMetrics) SetConnected(n int) {
	m.connected.Set(float64(n))
}

func (m *LedgerMetrics) SetPaused(n int) {
	m.paused.Set(float64(n))
}
