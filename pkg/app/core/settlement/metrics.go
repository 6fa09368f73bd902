package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "zigzag"

// Metrics counts settlement outcomes
type Metrics struct {
	Settlements  prometheus.Counter
	Rejections   *prometheus.CounterVec
	BaseVolume   *prometheus.CounterVec
	ApplySeconds prometheus.Histogram
}

// NewMetrics builds the settlement collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "applied_total",
			Help:      "Fills applied to state",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "rejected_total",
			Help:      "Fills rejected, by reason",
		}, []string{"reason"}),
		BaseVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "base_volume_total",
			Help:      "Settled base quantity by base asset (float, lossy above 2^53)",
		}, []string{"base_asset"}),
		ApplySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "fill_duration_seconds",
			Help:      "Time spent in FillOrder",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Settlements, m.Rejections, m.BaseVolume, m.ApplySeconds)
	}
	return m
}
