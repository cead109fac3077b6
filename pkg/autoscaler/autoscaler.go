// Package autoscaler runs the fleet scaling control loop. It evaluates
// aggregate instance statistics against a policy on its own timer,
// independent of the request path and the health probe loop, and drives
// external provisioning callbacks.
package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/isectech/routing-core/pkg/circuitbreaker"
	"github.com/isectech/routing-core/pkg/metrics"
	"github.com/isectech/routing-core/pkg/registry"
)

// ErrScaleActionFailed wraps provisioning callback failures. The cooldown
// timestamp is still stamped on failure so a broken provisioner is not
// hammered every tick.
var ErrScaleActionFailed = errors.New("scale action failed")

// InstanceDescriptor describes a newly provisioned instance.
type InstanceDescriptor struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Weight  int    `json:"weight"`
}

// Provisioner launches and tears down instances. The actual container, VM or
// process mechanism lives entirely behind this interface.
type Provisioner interface {
	ProvisionInstance(ctx context.Context) (InstanceDescriptor, error)
	DeprovisionInstance(ctx context.Context, id string) error
}

// Policy holds the scaling thresholds and cooldowns.
type Policy struct {
	MinInstances int `mapstructure:"min_instances" yaml:"min_instances" json:"min_instances"`
	MaxInstances int `mapstructure:"max_instances" yaml:"max_instances" json:"max_instances"`

	// CPUScaleUpThreshold and CPUScaleDownThreshold bound the estimated CPU
	// proxy in [0, 1].
	CPUScaleUpThreshold   float64 `mapstructure:"cpu_scale_up_threshold" yaml:"cpu_scale_up_threshold" json:"cpu_scale_up_threshold"`
	CPUScaleDownThreshold float64 `mapstructure:"cpu_scale_down_threshold" yaml:"cpu_scale_down_threshold" json:"cpu_scale_down_threshold"`

	// ResponseTimeThreshold is the fleet average response time (seconds)
	// above which the fleet is considered overloaded.
	ResponseTimeThreshold float64 `mapstructure:"response_time_threshold" yaml:"response_time_threshold" json:"response_time_threshold"`

	// ErrorRateThreshold is the fleet error fraction above which the fleet is
	// considered overloaded.
	ErrorRateThreshold float64 `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold" json:"error_rate_threshold"`

	ScaleUpCooldown   time.Duration `mapstructure:"scale_up_cooldown" yaml:"scale_up_cooldown" json:"scale_up_cooldown"`
	ScaleDownCooldown time.Duration `mapstructure:"scale_down_cooldown" yaml:"scale_down_cooldown" json:"scale_down_cooldown"`
}

// DefaultPolicy returns the default scaling policy.
func DefaultPolicy() *Policy {
	return &Policy{
		MinInstances:          1,
		MaxInstances:          10,
		CPUScaleUpThreshold:   0.8,
		CPUScaleDownThreshold: 0.3,
		ResponseTimeThreshold: 1.0,
		ErrorRateThreshold:    0.1,
		ScaleUpCooldown:       3 * time.Minute,
		ScaleDownCooldown:     5 * time.Minute,
	}
}

// Validate checks policy consistency.
func (p *Policy) Validate() error {
	if p.MinInstances < 0 {
		return errors.New("min_instances must not be negative")
	}
	if p.MaxInstances < p.MinInstances {
		return errors.New("max_instances must be >= min_instances")
	}
	return nil
}

// Config represents auto scaler configuration.
type Config struct {
	// Interval between policy evaluations, default 60s.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// DrainTimeout bounds how long a scale-down waits for in-flight requests
	// to finish before forcing deregistration.
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout" json:"drain_timeout"`

	// DrainPollInterval is how often active connections are polled during a
	// drain.
	DrainPollInterval time.Duration `mapstructure:"drain_poll_interval" yaml:"drain_poll_interval" json:"drain_poll_interval"`

	Policy Policy `mapstructure:"policy" yaml:"policy" json:"policy"`
}

// DefaultConfig returns the default auto scaler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:          60 * time.Second,
		DrainTimeout:      30 * time.Second,
		DrainPollInterval: time.Second,
		Policy:            *DefaultPolicy(),
	}
}

// FleetStats are the aggregates a scaling decision is based on.
type FleetStats struct {
	RegisteredCount int     `json:"registered_count"`
	HealthyCount    int     `json:"healthy_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
	ErrorRate       float64 `json:"error_rate"`
	EstimatedCPU    float64 `json:"estimated_cpu"`
	OpenBreakers    int     `json:"open_breakers"`
}

// AutoScaler evaluates fleet aggregates against the policy each tick.
// Concurrent overlapping scale actions are prevented by the cooldown
// timestamps rather than locks; cooldowns already bound action frequency.
type AutoScaler struct {
	config      *Config
	registry    *registry.Registry
	breakers    *circuitbreaker.Manager
	provisioner Provisioner
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu            sync.Mutex
	lastScaleUp   time.Time
	lastScaleDown time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	runMu   sync.Mutex
	running bool
}

// Option customizes an AutoScaler.
type Option func(*AutoScaler)

// WithMetrics wires prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(as *AutoScaler) { as.metrics = m }
}

// New creates an auto scaler.
func New(config *Config, reg *registry.Registry, breakers *circuitbreaker.Manager, provisioner Provisioner, logger *zap.Logger, opts ...Option) (*AutoScaler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if config.DrainPollInterval <= 0 {
		config.DrainPollInterval = time.Second
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, err
	}
	if provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	as := &AutoScaler{
		config:      config,
		registry:    reg,
		breakers:    breakers,
		provisioner: provisioner,
		logger:      logger.With(zap.String("component", "auto-scaler")),
	}

	for _, opt := range opts {
		opt(as)
	}

	return as, nil
}

// Start launches the scaling loop.
func (as *AutoScaler) Start(ctx context.Context) {
	as.runMu.Lock()
	if as.running {
		as.runMu.Unlock()
		return
	}
	as.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	as.cancel = cancel
	as.runMu.Unlock()

	as.wg.Add(1)
	go as.run(loopCtx)

	as.logger.Info("Auto scaler started",
		zap.Duration("interval", as.config.Interval),
		zap.Int("min_instances", as.config.Policy.MinInstances),
		zap.Int("max_instances", as.config.Policy.MaxInstances),
	)
}

// Stop terminates the scaling loop and waits for the current evaluation.
func (as *AutoScaler) Stop() {
	as.runMu.Lock()
	if !as.running {
		as.runMu.Unlock()
		return
	}
	as.running = false
	cancel := as.cancel
	as.runMu.Unlock()

	cancel()
	as.wg.Wait()

	as.logger.Info("Auto scaler stopped")
}

func (as *AutoScaler) run(ctx context.Context) {
	defer as.wg.Done()

	ticker := time.NewTicker(as.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			as.EvaluateOnce(ctx)
		}
	}
}

// EvaluateOnce runs one policy evaluation. A failed evaluation never
// terminates the loop; the next tick starts fresh.
func (as *AutoScaler) EvaluateOnce(ctx context.Context) {
	stats := as.Stats()
	policy := as.config.Policy

	overloaded := stats.AvgResponseTime > policy.ResponseTimeThreshold ||
		stats.ErrorRate > policy.ErrorRateThreshold ||
		stats.EstimatedCPU > policy.CPUScaleUpThreshold

	underloaded := stats.AvgResponseTime < 0.5*policy.ResponseTimeThreshold &&
		stats.ErrorRate < 0.5*policy.ErrorRateThreshold &&
		stats.EstimatedCPU < policy.CPUScaleDownThreshold

	switch {
	case overloaded && stats.HealthyCount < policy.MaxInstances && as.cooldownElapsed(scaleUp):
		as.scaleUp(ctx, stats)
	case underloaded && stats.HealthyCount > policy.MinInstances && as.cooldownElapsed(scaleDown):
		as.scaleDown(ctx, stats)
	}
}

type direction int

const (
	scaleUp direction = iota
	scaleDown
)

func (as *AutoScaler) cooldownElapsed(d direction) bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	if d == scaleUp {
		return time.Since(as.lastScaleUp) > as.config.Policy.ScaleUpCooldown
	}
	return time.Since(as.lastScaleDown) > as.config.Policy.ScaleDownCooldown
}

func (as *AutoScaler) stampCooldown(d direction) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if d == scaleUp {
		as.lastScaleUp = time.Now()
	} else {
		as.lastScaleDown = time.Now()
	}
}

// scaleUp provisions one instance and registers it. The cooldown is stamped
// even when provisioning fails, so a broken provisioner is retried at
// cooldown pace rather than every tick.
func (as *AutoScaler) scaleUp(ctx context.Context, stats FleetStats) {
	as.stampCooldown(scaleUp)

	desc, err := as.provisioner.ProvisionInstance(ctx)
	if err != nil {
		as.logger.Error("Scale up failed",
			zap.Float64("avg_response_time", stats.AvgResponseTime),
			zap.Float64("error_rate", stats.ErrorRate),
			zap.Error(errors.Wrap(ErrScaleActionFailed, err.Error())),
		)
		as.observeScaling("up", "error")
		return
	}

	if desc.ID == "" {
		desc.ID = uuid.New().String()
	}

	inst := registry.NewServiceInstance(desc.ID, desc.Address, desc.Weight)
	if err := as.registry.Register(inst); err != nil {
		as.logger.Error("Failed to register provisioned instance",
			zap.String("instance_id", desc.ID),
			zap.Error(err),
		)
		as.observeScaling("up", "error")
		return
	}

	as.logger.Info("Scaled up",
		zap.String("instance_id", desc.ID),
		zap.String("address", desc.Address),
		zap.Int("healthy_count", stats.HealthyCount),
		zap.Float64("avg_response_time", stats.AvgResponseTime),
		zap.Float64("error_rate", stats.ErrorRate),
		zap.Float64("estimated_cpu", stats.EstimatedCPU),
	)
	as.observeScaling("up", "success")
}

// scaleDown removes the healthy instance with the fewest active connections
// from the fleet: it is deregistered first so the router stops assigning it
// new requests, then its in-flight connections are drained, then it is
// deprovisioned. Draining a still-routable instance would never converge
// under steady traffic.
func (as *AutoScaler) scaleDown(ctx context.Context, stats FleetStats) {
	victim := as.pickDrainCandidate()
	if victim == nil {
		return
	}

	as.stampCooldown(scaleDown)

	as.registry.Deregister(victim.ID)
	if as.breakers != nil {
		as.breakers.Remove(victim.ID)
	}

	drained := as.drain(ctx, victim)
	if !drained {
		as.logger.Warn("Drain timed out, deprovisioning with connections remaining",
			zap.String("instance_id", victim.ID),
			zap.Int("active_connections", victim.ActiveConnections()),
		)
	}

	if err := as.provisioner.DeprovisionInstance(ctx, victim.ID); err != nil {
		as.logger.Error("Deprovision failed",
			zap.String("instance_id", victim.ID),
			zap.Error(errors.Wrap(ErrScaleActionFailed, err.Error())),
		)
		as.observeScaling("down", "error")
	} else {
		as.observeScaling("down", "success")
	}

	as.logger.Info("Scaled down",
		zap.String("instance_id", victim.ID),
		zap.Bool("drained", drained),
		zap.Int("healthy_count", stats.HealthyCount),
	)
}

// pickDrainCandidate returns the healthy instance with the fewest active
// connections.
func (as *AutoScaler) pickDrainCandidate() *registry.ServiceInstance {
	healthy := as.registry.ListHealthy()
	if len(healthy) == 0 {
		return nil
	}

	victim := healthy[0]
	min := victim.ActiveConnections()
	for _, inst := range healthy[1:] {
		if conns := inst.ActiveConnections(); conns < min {
			victim = inst
			min = conns
		}
	}
	return victim
}

// drain polls until the instance has no in-flight requests or the drain
// timeout elapses. Returns true when fully drained.
func (as *AutoScaler) drain(ctx context.Context, inst *registry.ServiceInstance) bool {
	deadline := time.Now().Add(as.config.DrainTimeout)

	for {
		if inst.ActiveConnections() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}

		select {
		case <-ctx.Done():
			return inst.ActiveConnections() == 0
		case <-time.After(as.config.DrainPollInterval):
		}
	}
}

// Stats computes the fleet aggregates the policy is evaluated against.
func (as *AutoScaler) Stats() FleetStats {
	instances := as.registry.List()

	stats := FleetStats{RegisteredCount: len(instances)}

	var rtSum float64
	var rtCount int
	var totalErrors, totalSamples, totalConns int

	for _, inst := range instances {
		snap := inst.Snapshot()
		if snap.Healthy {
			stats.HealthyCount++
		}
		if snap.SampleCount > 0 {
			rtSum += snap.AvgResponseTime
			rtCount++
		}
		totalErrors += snap.ErrorCount
		totalSamples += snap.SampleCount
		totalConns += snap.ActiveConnections
	}

	if rtCount > 0 {
		stats.AvgResponseTime = rtSum / float64(rtCount)
	}
	if totalErrors+totalSamples > 0 {
		stats.ErrorRate = float64(totalErrors) / float64(totalErrors+totalSamples)
	}
	if as.breakers != nil {
		for _, state := range as.breakers.States() {
			if state == circuitbreaker.StateOpen {
				stats.OpenBreakers++
			}
		}
	}

	stats.EstimatedCPU = as.estimateCPU(stats.AvgResponseTime, totalConns, len(instances))

	return stats
}

// estimateCPU derives a [0, 1] CPU proxy from response time pressure and
// connection pressure. There is no real CPU signal available to the core;
// the proxy deliberately saturates at 1.
func (as *AutoScaler) estimateCPU(avgResponseTime float64, totalConns, instanceCount int) float64 {
	if instanceCount == 0 {
		return 0
	}

	rtPressure := 0.0
	if threshold := as.config.Policy.ResponseTimeThreshold; threshold > 0 {
		rtPressure = avgResponseTime / threshold
	}

	connPressure := float64(totalConns) / float64(instanceCount) / 10

	estimate := 0.5*rtPressure + 0.5*connPressure
	if estimate > 1 {
		estimate = 1
	}
	if estimate < 0 {
		estimate = 0
	}
	return estimate
}

// LastScaleUp returns the time of the most recent scale-up action.
func (as *AutoScaler) LastScaleUp() time.Time {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.lastScaleUp
}

// LastScaleDown returns the time of the most recent scale-down action.
func (as *AutoScaler) LastScaleDown() time.Time {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.lastScaleDown
}

func (as *AutoScaler) observeScaling(direction, result string) {
	if as.metrics != nil {
		as.metrics.ScalingOperations.WithLabelValues(direction, result).Inc()
	}
}
