package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type StakeMetrics struct {
	operations   *prometheus.CounterVec
	poolBalance  prometheus.Gauge
	pendingTotal prometheus.Gauge
	bindings     prometheus.Gauge
}

var (
	stakeOnce     sync.Once
	stakeRegistry *StakeMetrics
)

func Stake() *StakeMetrics {
	stakeOnce.Do(func() {
		stakeRegistry = &StakeMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stake_operations_total",
				Help: "Count of completed staking operations by kind.",
			}, []string{"op"}),
			poolBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stake_pool_balance",
				Help: "Total tokens held by the staking pool.",
			}),
			pendingTotal: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stake_pending_unstake_total",
				Help: "Aggregate amount across records awaiting withdrawal.",
			}),
			bindings: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stake_bindings",
				Help: "Number of account-to-identifier bindings.",
			}),
		}
		prometheus.MustRegister(
			stakeRegistry.operations,
			stakeRegistry.poolBalance,
			stakeRegistry.pendingTotal,
			stakeRegistry.bindings,
		)
	})
	return stakeRegistry
}

func (m *StakeMetrics) ObserveOperation(op string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *StakeMetrics) SetPoolBalance(v *big.Int) {
	if m == nil || v == nil {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	m.poolBalance.Set(f)
}

func (m *StakeMetrics) SetPendingTotal(v *big.Int) {
	if m == nil || v == nil {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	m.pendingTotal.Set(f)
}

func (m *StakeMetrics) SetBindingCount(n uint64) {
	if m == nil {
		return
	}
	m.bindings.Set(float64(n))
}
