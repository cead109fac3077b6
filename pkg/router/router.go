// Package router composes the registry, strategies, circuit breakers and
// metrics into the request-facing routing facade.
package router

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/isectech/routing-core/pkg/balancer"
	"github.com/isectech/routing-core/pkg/circuitbreaker"
	"github.com/isectech/routing-core/pkg/metrics"
	"github.com/isectech/routing-core/pkg/ratelimit"
	"github.com/isectech/routing-core/pkg/registry"
)

var (
	// ErrNoHealthyInstance is returned when routing found zero healthy
	// instances.
	ErrNoHealthyInstance = errors.New("no healthy instance available")

	// ErrCircuitOpen is returned when healthy instances exist but every
	// target's circuit breaker is denying execution.
	ErrCircuitOpen = errors.New("all targets circuit broken")
)

// Router selects an instance per request and records outcomes. Route and
// Complete form a pair per in-flight request and are safe under unbounded
// concurrent callers.
type Router struct {
	registry *registry.Registry
	strategy balancer.Strategy
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
	metrics  *metrics.Metrics

	limiter   ratelimit.Checker
	limitRule ratelimit.Rule

	totalRequests uint64
}

// Option customizes a Router.
type Option func(*Router)

// WithMetrics wires prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithRateLimit gates every Route call with an admission check under the
// given rule. Without this option the router performs no rate limiting.
func WithRateLimit(checker ratelimit.Checker, rule ratelimit.Rule) Option {
	return func(r *Router) {
		r.limiter = checker
		r.limitRule = rule
	}
}

// New creates a router over the given registry, strategy and breaker manager.
func New(reg *registry.Registry, strategy balancer.Strategy, breakers *circuitbreaker.Manager, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		registry: reg,
		strategy: strategy,
		breakers: breakers,
		logger:   logger.With(zap.String("component", "router")),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Route selects an instance for the request. When a rate limiter is wired,
// the request is first checked against the configured rule and rejected with
// ratelimit.ErrRateLimited on denial. Candidates are the healthy instances
// whose circuit breaker is eligible at selection time; the active strategy
// picks among them and the breaker admission is committed only for the chosen
// instance, so a half-open trial always goes to the target that receives the
// request. On selection the instance's in-flight counter and the router's
// request counter are incremented, and the caller owes a matching Complete
// call.
func (r *Router) Route(ctx context.Context, rc balancer.RequestContext) (*registry.ServiceInstance, error) {
	if r.limiter != nil {
		subject := ratelimit.SubjectKey(r.limitRule, rc.UserID, rc.IP)
		res, err := r.limiter.Check(ctx, subject, r.limitRule)
		if err != nil {
			r.observeRoutingError("rate_limit")
			return nil, err
		}

		decision := "allowed"
		if !res.Allowed {
			decision = "denied"
		}
		if r.metrics != nil {
			r.metrics.RateLimitDecisions.WithLabelValues(decision).Inc()
		}
		if !res.Allowed {
			return nil, ratelimit.ErrRateLimited
		}
	}

	healthy := r.registry.ListHealthy()
	if len(healthy) == 0 {
		r.observeRoutingError("no_healthy_instance")
		return nil, ErrNoHealthyInstance
	}

	candidates := healthy[:0]
	for _, inst := range healthy {
		if r.breakers.GetOrCreate(inst.ID).IsEligible() {
			candidates = append(candidates, inst)
		}
	}

	for len(candidates) > 0 {
		inst, err := r.strategy.Select(candidates, rc)
		if err != nil {
			r.observeRoutingError("strategy")
			return nil, err
		}

		// Commit against the breaker only for the chosen instance; this is
		// where a half-open trial is consumed. A concurrent request may have
		// taken the trial since the eligibility filter ran, in which case the
		// instance is dropped and selection retried on the remainder.
		if !r.breakers.GetOrCreate(inst.ID).CanExecute() {
			kept := candidates[:0]
			for _, c := range candidates {
				if c.ID != inst.ID {
					kept = append(kept, c)
				}
			}
			candidates = kept
			continue
		}

		inst.IncActiveConnections()
		atomic.AddUint64(&r.totalRequests, 1)

		if r.metrics != nil {
			r.metrics.RequestsRouted.WithLabelValues(r.strategy.Name()).Inc()
		}

		return inst, nil
	}

	r.observeRoutingError("circuit_open")
	return nil, ErrCircuitOpen
}

// Complete reports the outcome of a routed request: the response time sample
// is appended to the instance's rolling window, the in-flight counter is
// released, and the target's circuit breaker is fed.
func (r *Router) Complete(inst *registry.ServiceInstance, responseTimeSeconds float64, success bool) {
	if inst == nil {
		return
	}

	inst.RecordResponseTime(responseTimeSeconds)
	inst.DecActiveConnections()

	breaker := r.breakers.GetOrCreate(inst.ID)
	outcome := "success"

	if success {
		breaker.RecordSuccess()
	} else {
		outcome = "failure"
		inst.AddErrors(1)
		breaker.RecordFailure()

		r.logger.Debug("Request failed",
			zap.String("instance_id", inst.ID),
			zap.Float64("response_time", responseTimeSeconds),
			zap.String("breaker_state", breaker.State().String()),
		)
	}

	if r.metrics != nil {
		r.metrics.RequestsCompleted.WithLabelValues(outcome).Inc()
	}
}

// Stats is a point-in-time view of router activity.
type Stats struct {
	TotalRequests       uint64 `json:"total_requests"`
	RegisteredInstances int    `json:"registered_instances"`
	HealthyInstances    int    `json:"healthy_instances"`
	Strategy            string `json:"strategy"`
}

// Stats returns current router statistics and refreshes the instance gauges.
func (r *Router) Stats() Stats {
	healthy := len(r.registry.ListHealthy())
	total := r.registry.Len()

	if r.metrics != nil {
		r.metrics.HealthyInstances.Set(float64(healthy))
		r.metrics.RegisteredInstances.Set(float64(total))
	}

	return Stats{
		TotalRequests:       atomic.LoadUint64(&r.totalRequests),
		RegisteredInstances: total,
		HealthyInstances:    healthy,
		Strategy:            r.strategy.Name(),
	}
}

func (r *Router) observeRoutingError(reason string) {
	if r.metrics != nil {
		r.metrics.RoutingErrors.WithLabelValues(reason).Inc()
	}
}
