package autoscaler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrPoolExhausted is returned when every standby address is already in use.
var ErrPoolExhausted = errors.New("standby pool exhausted")

// StaticPoolProvisioner hands out instances from a fixed standby address
// pool. Deprovisioned addresses return to the pool. It is the default
// provisioner when no orchestrator integration is configured.
type StaticPoolProvisioner struct {
	mu    sync.Mutex
	free  []string
	inUse map[string]string
}

// NewStaticPoolProvisioner creates a provisioner over the given standby
// addresses.
func NewStaticPoolProvisioner(addresses []string) *StaticPoolProvisioner {
	return &StaticPoolProvisioner{
		free:  append([]string(nil), addresses...),
		inUse: make(map[string]string),
	}
}

// ProvisionInstance implements Provisioner.
func (p *StaticPoolProvisioner) ProvisionInstance(_ context.Context) (InstanceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return InstanceDescriptor{}, ErrPoolExhausted
	}

	address := p.free[0]
	p.free = p.free[1:]

	id := uuid.New().String()
	p.inUse[id] = address

	return InstanceDescriptor{ID: id, Address: address, Weight: 1}, nil
}

// DeprovisionInstance implements Provisioner. Unknown ids are not an error;
// the instance may have been provisioned outside the pool.
func (p *StaticPoolProvisioner) DeprovisionInstance(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if address, ok := p.inUse[id]; ok {
		delete(p.inUse, id)
		p.free = append(p.free, address)
	}
	return nil
}

// Available reports how many standby addresses remain.
func (p *StaticPoolProvisioner) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
