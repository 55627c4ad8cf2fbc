// Package metrics defines the prometheus counters exported by the fusion engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Kernel launch phases, used as the "phase" label of fusion_kernel_launches_total.
const (
	PhaseTrial      = "trial"
	PhaseProduction = "production"
)

// Metrics holds the counters of one engine instance. Servers sharing a Metrics aggregate their counts.
type Metrics struct {
	OpsRegistered  prometheus.Counter
	Drains         prometheus.Counter
	KernelLaunches *prometheus.CounterVec
	DirectOps      prometheus.Counter
	Compilations   prometheus.Counter
	AutotuneTrials prometheus.Counter
	AutotuneHits   prometheus.Counter
	Transfers      prometheus.Counter
	TrialLatency   prometheus.Histogram
}

// New creates the metrics and registers them with registerer. If registerer is nil the metrics
// are not registered, but still count.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		OpsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_ops_registered_total",
			Help: "Total number of operations registered in the streams",
		}),
		Drains: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_drains_total",
			Help: "Total number of non-empty stream drains",
		}),
		KernelLaunches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fusion_kernel_launches_total",
			Help: "Total number of fused kernel launches",
		}, []string{"phase"}),
		DirectOps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_direct_ops_total",
			Help: "Total number of operations executed without fusion",
		}),
		Compilations: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_compilations_total",
			Help: "Total number of fusion units compiled",
		}),
		AutotuneTrials: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_autotune_trials_total",
			Help: "Total number of autotune benchmark trials",
		}),
		AutotuneHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_autotune_hits_total",
			Help: "Total number of autotune cache hits",
		}),
		Transfers: factory.NewCounter(prometheus.CounterOpts{
			Name: "fusion_transfers_total",
			Help: "Total number of tensors moved between servers",
		}),
		TrialLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fusion_autotune_trial_duration_seconds",
			Help:    "Duration of autotune benchmark trials",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
	}
}

// KernelLaunched counts one fused kernel launch in the given phase (PhaseTrial or PhaseProduction).
func (m *Metrics) KernelLaunched(phase string) {
	m.KernelLaunches.WithLabelValues(phase).Inc()
}
