package balancer

import (
	"sync"

	"github.com/isectech/routing-core/pkg/registry"
)

// WeightedRoundRobin implements smooth weighted round robin: each call adds
// every candidate's static weight to its current weight, selects the candidate
// with the highest current weight, then subtracts the total weight from the
// selection. Over time traffic is distributed proportionally to weight
// without bursts to the heaviest instance.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[string]int
}

// NewWeightedRoundRobin creates a smooth weighted round robin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{
		current: make(map[string]int),
	}
}

// Name implements Strategy.
func (w *WeightedRoundRobin) Name() string { return string(KindWeightedRoundRobin) }

// Select implements Strategy.
func (w *WeightedRoundRobin) Select(candidates []*registry.ServiceInstance, _ RequestContext) (*registry.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Drop state for instances no longer offered, or the map grows without
	// bound under instance churn.
	offered := make(map[string]struct{}, len(candidates))
	for _, inst := range candidates {
		offered[inst.ID] = struct{}{}
	}
	for id := range w.current {
		if _, ok := offered[id]; !ok {
			delete(w.current, id)
		}
	}

	total := 0
	var selected *registry.ServiceInstance
	best := 0

	for _, inst := range candidates {
		w.current[inst.ID] += inst.Weight
		total += inst.Weight

		if selected == nil || w.current[inst.ID] > best {
			selected = inst
			best = w.current[inst.ID]
		}
	}

	w.current[selected.ID] -= total
	return selected, nil
}
