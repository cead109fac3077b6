package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MembershipListener receives registry membership changes. Strategies that
// keep derived structures (e.g. a consistent hash ring) implement it so that
// registration and deregistration keep them in sync.
type MembershipListener interface {
	InstanceRegistered(instance *ServiceInstance)
	InstanceDeregistered(id string)
}

// Registry holds the set of known service instances.
type Registry struct {
	logger *zap.Logger

	mu        sync.RWMutex
	instances map[string]*ServiceInstance
	listeners []MembershipListener
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		logger:    logger,
		instances: make(map[string]*ServiceInstance),
	}
}

// AddListener subscribes a membership listener. Listeners are notified under
// no registry lock ordering guarantees beyond registration order.
func (r *Registry) AddListener(l MembershipListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Register adds an instance to the registry. Registering an already known id
// is an error; deregister first.
func (r *Registry) Register(instance *ServiceInstance) error {
	if instance == nil {
		return fmt.Errorf("instance is required")
	}

	r.mu.Lock()
	if _, exists := r.instances[instance.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("instance %s already registered", instance.ID)
	}
	r.instances[instance.ID] = instance
	listeners := append([]MembershipListener(nil), r.listeners...)
	r.mu.Unlock()

	for _, l := range listeners {
		l.InstanceRegistered(instance)
	}

	r.logger.Info("Instance registered",
		zap.String("instance_id", instance.ID),
		zap.String("address", instance.Address),
		zap.Int("weight", instance.Weight),
	)

	return nil
}

// Deregister removes an instance by id. Removing an unknown id is a no-op
// returning false.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	_, exists := r.instances[id]
	if exists {
		delete(r.instances, id)
	}
	listeners := append([]MembershipListener(nil), r.listeners...)
	r.mu.Unlock()

	if !exists {
		return false
	}

	for _, l := range listeners {
		l.InstanceDeregistered(id)
	}

	r.logger.Info("Instance deregistered", zap.String("instance_id", id))
	return true
}

// Get returns the instance with the given id.
func (r *Registry) Get(id string) (*ServiceInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	return inst, ok
}

// List returns all registered instances, ordered by id.
func (r *Registry) List() []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sortByID(out)
	return out
}

// ListHealthy returns all instances currently eligible for routing, ordered
// by id. The stable order matters: index-based strategies cycle over this
// list, and map iteration order would turn them into random selection.
func (r *Registry) ListHealthy() []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ServiceInstance, 0, len(r.instances))
	for _, inst := range r.instances {
		if inst.IsHealthy() {
			out = append(out, inst)
		}
	}
	sortByID(out)
	return out
}

func sortByID(instances []*ServiceInstance) {
	sort.Slice(instances, func(i, j int) bool { return instances[i].ID < instances[j].ID })
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.instances)
}
