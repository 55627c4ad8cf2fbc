package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.KernelLaunched(PhaseTrial)
	m.KernelLaunched(PhaseTrial)
	m.KernelLaunched(PhaseProduction)
	m.Drains.Inc()
	require.Equal(t, 2.0, testutil.ToFloat64(m.KernelLaunches.WithLabelValues(PhaseTrial)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.KernelLaunches.WithLabelValues(PhaseProduction)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Drains))

	count, err := testutil.GatherAndCount(registry, "fusion_drains_total", "fusion_kernel_launches_total")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// Registering twice in the same registry panics, unregistered metrics don't.
	require.Panics(t, func() { New(registry) })
	require.NotPanics(t, func() {
		New(nil).Drains.Inc()
		New(nil).Drains.Inc()
	})
}
