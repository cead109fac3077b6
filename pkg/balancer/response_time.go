package balancer

import "github.com/isectech/routing-core/pkg/registry"

// defaultAvgResponseTime is assumed for instances without samples. It avoids
// division anomalies and gives unproven instances a mild preference over
// demonstrably slow ones.
const defaultAvgResponseTime = 0.5

// ResponseTimeAware scores each candidate by observed latency, load and health
// and selects the lowest score:
//
//	score = avgResponseTime * (1 + 0.1*activeConnections) / healthScore
type ResponseTimeAware struct{}

// NewResponseTimeAware creates a response time aware strategy.
func NewResponseTimeAware() *ResponseTimeAware {
	return &ResponseTimeAware{}
}

// Name implements Strategy.
func (rt *ResponseTimeAware) Name() string { return string(KindResponseTimeAware) }

// Select implements Strategy.
func (rt *ResponseTimeAware) Select(candidates []*registry.ServiceInstance, _ RequestContext) (*registry.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	var selected *registry.ServiceInstance
	var best float64

	for _, inst := range candidates {
		if score := rt.score(inst); selected == nil || score < best {
			selected = inst
			best = score
		}
	}

	return selected, nil
}

func (rt *ResponseTimeAware) score(inst *registry.ServiceInstance) float64 {
	avg, ok := inst.AvgResponseTime()
	if !ok {
		avg = defaultAvgResponseTime
	}

	health := inst.HealthScore()
	if health <= 0 {
		// Unhealthy instances should not be in the candidate set, but guard
		// the division regardless.
		health = 0.01
	}

	return avg * (1 + 0.1*float64(inst.ActiveConnections())) / health
}
