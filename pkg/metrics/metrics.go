// Package metrics exposes prometheus instrumentation for the routing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors used across the routing core. All components
// share one instance wired by the composition root; tests pass their own
// registerer.
type Metrics struct {
	RequestsRouted      *prometheus.CounterVec
	RoutingErrors       *prometheus.CounterVec
	RequestsCompleted   *prometheus.CounterVec
	RateLimitDecisions  *prometheus.CounterVec
	ProbeResults        *prometheus.CounterVec
	ScalingOperations   *prometheus.CounterVec
	HealthyInstances    prometheus.Gauge
	RegisteredInstances prometheus.Gauge
}

// New creates and registers the routing core collectors on reg. Passing nil
// uses the default prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RequestsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "requests_routed_total",
			Help:      "Requests successfully assigned to an instance, by strategy.",
		}, []string{"strategy"}),

		RoutingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "routing_errors_total",
			Help:      "Routing attempts that found no eligible instance, by reason.",
		}, []string{"reason"}),

		RequestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "requests_completed_total",
			Help:      "Completed requests reported back to the router, by outcome.",
		}, []string{"outcome"}),

		RateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limit checks, by decision.",
		}, []string{"decision"}),

		ProbeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "probe_results_total",
			Help:      "Health probe outcomes, by status.",
		}, []string{"status"}),

		ScalingOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing_core",
			Name:      "scaling_operations_total",
			Help:      "Auto scaling actions, by direction and result.",
		}, []string{"direction", "result"}),

		HealthyInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routing_core",
			Name:      "healthy_instances",
			Help:      "Instances currently eligible for routing.",
		}),

		RegisteredInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routing_core",
			Name:      "registered_instances",
			Help:      "Instances currently registered.",
		}),
	}

	reg.MustRegister(
		m.RequestsRouted,
		m.RoutingErrors,
		m.RequestsCompleted,
		m.RateLimitDecisions,
		m.ProbeResults,
		m.ScalingOperations,
		m.HealthyInstances,
		m.RegisteredInstances,
	)

	return m
}
