package balancer

import (
	"sync"

	"github.com/isectech/routing-core/pkg/registry"
)

// RoundRobin cycles through the current healthy list. The counter persists
// across registry changes; the selected slot is always taken modulo the
// candidate set handed in.
type RoundRobin struct {
	mu    sync.Mutex
	index uint64
}

// NewRoundRobin creates a round robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name implements Strategy.
func (rr *RoundRobin) Name() string { return string(KindRoundRobin) }

// Select implements Strategy.
func (rr *RoundRobin) Select(candidates []*registry.ServiceInstance, _ RequestContext) (*registry.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	rr.mu.Lock()
	selected := candidates[rr.index%uint64(len(candidates))]
	rr.index++
	rr.mu.Unlock()

	return selected, nil
}
