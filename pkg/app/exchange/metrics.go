package exchange

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks block production
type Metrics struct {
	Height    prometheus.Gauge
	Admitted  *prometheus.CounterVec
	TxResults *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg; nil reg skips registration
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zigzag",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the last finalized block",
		}),
		Admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zigzag",
			Subsystem: "mempool",
			Name:      "admitted_total",
			Help:      "Transactions admitted to the mempool, by bucket",
		}, []string{"bucket"}),
		TxResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zigzag",
			Subsystem: "chain",
			Name:      "tx_results_total",
			Help:      "Finalized transactions by type and result",
		}, []string{"type", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Height, m.Admitted, m.TxResults)
	}
	return m
}
