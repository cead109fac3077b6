package healthprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isectech/routing-core/pkg/registry"
)

func newProbe(t *testing.T, prober Prober, opts ...Option) (*Probe, *registry.Registry) {
	reg := registry.NewRegistry(zaptest.NewLogger(t))
	cfg := &Config{
		Interval:           10 * time.Millisecond,
		Timeout:            time.Second,
		MaxProbesPerSecond: 1000,
	}
	return New(cfg, reg, prober, zaptest.NewLogger(t), opts...), reg
}

func TestProbeSuccessScoresInstance(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		return nil
	})
	p, reg := newProbe(t, prober)

	inst := registry.NewServiceInstance("api-1", "addr", 1)
	require.NoError(t, reg.Register(inst))

	result := p.ProbeInstance(context.Background(), inst)

	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "api-1", result.Component)
	assert.Equal(t, 1.0, inst.HealthScore())
	assert.False(t, inst.LastHealthCheck().IsZero())
}

func TestProbeFailureZeroesScoreAndChargesErrors(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		return errors.New("connection refused")
	})
	p, reg := newProbe(t, prober)

	inst := registry.NewServiceInstance("api-1", "addr", 1)
	require.NoError(t, reg.Register(inst))

	result := p.ProbeInstance(context.Background(), inst)

	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Error(t, result.Err)
	assert.Equal(t, 0.0, inst.HealthScore())
	assert.Equal(t, 2, inst.ErrorCount())
	assert.False(t, inst.IsHealthy())
}

func TestProbeSuccessDecaysErrorCount(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		return nil
	})
	p, reg := newProbe(t, prober)

	inst := registry.NewServiceInstance("api-1", "addr", 1)
	inst.AddErrors(5)
	require.NoError(t, reg.Register(inst))

	p.ProbeInstance(context.Background(), inst)

	assert.Equal(t, 4, inst.ErrorCount())
	// tier 1.0 discounted by 5 errors: 1 - 5/50 = 0.9
	assert.InDelta(t, 0.9, inst.HealthScore(), 1e-9)
}

func TestProbePanicIsContained(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		panic("prober bug")
	})
	p, reg := newProbe(t, prober)

	inst := registry.NewServiceInstance("api-1", "addr", 1)
	require.NoError(t, reg.Register(inst))

	var result Result
	require.NotPanics(t, func() {
		result = p.ProbeInstance(context.Background(), inst)
	})

	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, 0.0, inst.HealthScore())
	assert.Equal(t, 2, inst.ErrorCount())
}

func TestProbeLoopFeedsResultSink(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		return nil
	})

	results := make(chan Result, 16)
	p, reg := newProbe(t, prober, WithResultSink(func(r Result) {
		select {
		case results <- r:
		default:
		}
	}))

	require.NoError(t, reg.Register(registry.NewServiceInstance("api-1", "addr", 1)))

	p.Start(context.Background())
	defer p.Stop()

	select {
	case r := <-results:
		assert.Equal(t, "api-1", r.Component)
		assert.Equal(t, StatusHealthy, r.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no probe result observed")
	}
}

func TestProbeStopIsIdempotent(t *testing.T) {
	prober := ProberFunc(func(context.Context, *registry.ServiceInstance) error {
		return nil
	})
	p, _ := newProbe(t, prober)

	p.Start(context.Background())
	p.Stop()
	assert.NotPanics(t, p.Stop)
}

func TestLatencyTiers(t *testing.T) {
	assert.Equal(t, 1.0, latencyTier(50*time.Millisecond))
	assert.Equal(t, 0.9, latencyTier(100*time.Millisecond))
	assert.Equal(t, 0.9, latencyTier(400*time.Millisecond))
	assert.Equal(t, 0.7, latencyTier(700*time.Millisecond))
	assert.Equal(t, 0.5, latencyTier(1500*time.Millisecond))
	assert.Equal(t, 0.3, latencyTier(3*time.Second))
}

func TestErrorDecayFloor(t *testing.T) {
	assert.Equal(t, 1.0, errorDecay(0))
	assert.InDelta(t, 0.8, errorDecay(10), 1e-9)
	assert.Equal(t, 0.1, errorDecay(45), "decay is floored at 0.1")
	assert.Equal(t, 0.1, errorDecay(500))
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	address := strings.TrimPrefix(server.URL, "http://")
	prober := NewHTTPProber("/health")

	inst := registry.NewServiceInstance("api-1", address, 1)
	assert.NoError(t, prober.Probe(context.Background(), inst))

	wrongPath := NewHTTPProber("/missing")
	assert.Error(t, wrongPath.Probe(context.Background(), inst), "non-2xx means unhealthy")

	gone := registry.NewServiceInstance("api-2", "127.0.0.1:1", 1)
	assert.Error(t, prober.Probe(context.Background(), gone))
}
