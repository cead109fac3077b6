// Package healthprobe runs the periodic background task that keeps instance
// health scores current, independent of request traffic.
package healthprobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/isectech/routing-core/pkg/registry"
)

// Status represents the outcome class of a probe.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one probe cycle against one instance. Probe
// failures are always converted into a Result with StatusUnhealthy; they
// never propagate out of the loop.
type Result struct {
	Component    string                 `json:"component"`
	Status       Status                 `json:"status"`
	Message      string                 `json:"message,omitempty"`
	ResponseTime time.Duration          `json:"response_time"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Err          error                  `json:"error,omitempty"`
}

// Config represents probe loop configuration.
type Config struct {
	// Interval between probe cycles, default 30s.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// Timeout is the per-probe budget, default 5s. It is independent of any
	// caller-facing timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`

	// Path probed on each instance, default "/health".
	Path string `mapstructure:"path" yaml:"path" json:"path"`

	// MaxProbesPerSecond paces probe fan-out within a cycle so large fleets
	// are not probed in a burst. Default 50.
	MaxProbesPerSecond float64 `mapstructure:"max_probes_per_second" yaml:"max_probes_per_second" json:"max_probes_per_second"`
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:           30 * time.Second,
		Timeout:            5 * time.Second,
		Path:               "/health",
		MaxProbesPerSecond: 50,
	}
}

// Probe is the periodic health probe loop. It reads instances from the
// registry, probes each with a bounded timeout, and maps probe latency and
// error history onto the instance health score.
type Probe struct {
	config   *Config
	registry *registry.Registry
	prober   Prober
	logger   *zap.Logger
	pacer    *rate.Limiter

	// onResult, when set, receives every probe result. Used to feed metrics
	// and the shared health store.
	onResult func(Result)

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// Option customizes a Probe.
type Option func(*Probe)

// WithResultSink registers a callback receiving every probe result.
func WithResultSink(sink func(Result)) Option {
	return func(p *Probe) { p.onResult = sink }
}

// New creates a probe loop. A nil prober defaults to an HTTP prober on the
// configured path.
func New(config *Config, reg *registry.Registry, prober Prober, logger *zap.Logger, opts ...Option) *Probe {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.MaxProbesPerSecond <= 0 {
		config.MaxProbesPerSecond = 50
	}
	if prober == nil {
		prober = NewHTTPProber(config.Path)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Probe{
		config:   config,
		registry: reg,
		prober:   prober,
		logger:   logger.With(zap.String("component", "health-probe")),
		pacer:    rate.NewLimiter(rate.Limit(config.MaxProbesPerSecond), 1),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Start launches the probe loop. It runs until ctx is cancelled or Stop is
// called.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(loopCtx)

	p.logger.Info("Health probe started",
		zap.Duration("interval", p.config.Interval),
		zap.Duration("timeout", p.config.Timeout),
	)
}

// Stop terminates the probe loop and waits for the current cycle to finish.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.logger.Info("Health probe stopped")
}

func (p *Probe) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll probes every registered instance once. A failed cycle never
// terminates the loop.
func (p *Probe) probeAll(ctx context.Context) {
	for _, inst := range p.registry.List() {
		if err := p.pacer.Wait(ctx); err != nil {
			return
		}

		result := p.ProbeInstance(ctx, inst)
		if p.onResult != nil {
			p.onResult(result)
		}
	}
}

// ProbeInstance probes one instance and applies the outcome to its health
// state. Exposed so callers can force an immediate probe (e.g. right after
// provisioning).
func (p *Probe) ProbeInstance(ctx context.Context, inst *registry.ServiceInstance) (result Result) {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = p.applyFailure(inst, fmt.Errorf("probe panicked: %v", r), 0)
		}
	}()

	start := time.Now()
	err := p.prober.Probe(probeCtx, inst)
	elapsed := time.Since(start)

	if err != nil {
		return p.applyFailure(inst, err, elapsed)
	}
	return p.applySuccess(inst, elapsed)
}

// applySuccess maps probe latency to a score tier, decays it by error
// history, and eases the error count back toward zero.
func (p *Probe) applySuccess(inst *registry.ServiceInstance, elapsed time.Duration) Result {
	tier := latencyTier(elapsed)
	decay := errorDecay(inst.ErrorCount())
	score := tier * decay

	inst.SetHealthScore(score)
	inst.DecayError()
	inst.SetLastHealthCheck(time.Now())

	status := StatusHealthy
	if tier < 0.9 {
		status = StatusDegraded
	}

	p.logger.Debug("Instance probe succeeded",
		zap.String("instance_id", inst.ID),
		zap.Duration("response_time", elapsed),
		zap.Float64("health_score", score),
	)

	return Result{
		Component:    inst.ID,
		Status:       status,
		Message:      fmt.Sprintf("instance %s responded in %v", inst.ID, elapsed),
		ResponseTime: elapsed,
		Details: map[string]interface{}{
			"health_score": score,
			"error_count":  inst.ErrorCount(),
		},
	}
}

// applyFailure zeroes the health score and charges two errors. The error is
// captured in the result, never rethrown.
func (p *Probe) applyFailure(inst *registry.ServiceInstance, err error, elapsed time.Duration) Result {
	inst.AddErrors(2)
	inst.SetHealthScore(0)
	inst.SetLastHealthCheck(time.Now())

	p.logger.Warn("Instance probe failed",
		zap.String("instance_id", inst.ID),
		zap.Int("error_count", inst.ErrorCount()),
		zap.Error(err),
	)

	return Result{
		Component:    inst.ID,
		Status:       StatusUnhealthy,
		Message:      fmt.Sprintf("instance %s failed probe", inst.ID),
		ResponseTime: elapsed,
		Details: map[string]interface{}{
			"error_count": inst.ErrorCount(),
		},
		Err: err,
	}
}

// latencyTier maps probe latency to a base health score.
func latencyTier(elapsed time.Duration) float64 {
	switch {
	case elapsed < 100*time.Millisecond:
		return 1.0
	case elapsed < 500*time.Millisecond:
		return 0.9
	case elapsed < time.Second:
		return 0.7
	case elapsed < 2*time.Second:
		return 0.5
	default:
		return 0.3
	}
}

// errorDecay discounts the latency tier by accumulated errors, floored at 0.1.
func errorDecay(errorCount int) float64 {
	decay := 1 - float64(errorCount)/50
	if decay < 0.1 {
		decay = 0.1
	}
	return decay
}
