package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestsRouted.WithLabelValues("round_robin").Inc()
	m.RoutingErrors.WithLabelValues("circuit_open").Inc()
	m.RequestsCompleted.WithLabelValues("success").Add(3)
	m.RateLimitDecisions.WithLabelValues("denied").Inc()
	m.ProbeResults.WithLabelValues("healthy").Inc()
	m.ScalingOperations.WithLabelValues("up", "success").Inc()
	m.HealthyInstances.Set(4)
	m.RegisteredInstances.Set(5)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 8)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsRouted.WithLabelValues("round_robin")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsCompleted.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HealthyInstances))
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
