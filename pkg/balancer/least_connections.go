package balancer

import "github.com/isectech/routing-core/pkg/registry"

// LeastConnections selects the candidate with the fewest in-flight requests.
type LeastConnections struct{}

// NewLeastConnections creates a least connections strategy.
func NewLeastConnections() *LeastConnections {
	return &LeastConnections{}
}

// Name implements Strategy.
func (lc *LeastConnections) Name() string { return string(KindLeastConnections) }

// Select implements Strategy.
func (lc *LeastConnections) Select(candidates []*registry.ServiceInstance, _ RequestContext) (*registry.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	selected := candidates[0]
	min := selected.ActiveConnections()

	for _, inst := range candidates[1:] {
		if conns := inst.ActiveConnections(); conns < min {
			selected = inst
			min = conns
		}
	}

	return selected, nil
}
