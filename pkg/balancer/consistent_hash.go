package balancer

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/isectech/routing-core/pkg/registry"
)

// defaultVirtualReplicas is the number of virtual nodes placed on the ring
// per real instance. Virtual nodes spread each instance across the hash space
// so membership changes remap only a small fraction of keys.
const defaultVirtualReplicas = 150

// ConsistentHash routes each key to a stable instance via a hash ring. It
// implements registry.MembershipListener; the composition root subscribes it
// to the registry so registrations insert ring entries and deregistrations
// remove them.
//
// The routing key is the request's user id, falling back to session id, then
// to the literal "default". When the instance owning the key is not in the
// candidate set (unhealthy or circuit-broken) the selection walks the ring
// clockwise past it, wrapping around, and only fails once every ring entry
// has been passed.
type ConsistentHash struct {
	replicas int
	logger   *zap.Logger

	mu    sync.RWMutex
	ring  []uint32          // sorted virtual node hashes
	owner map[uint32]string // virtual node hash -> instance id
}

// NewConsistentHash creates a hash ring strategy with the given number of
// virtual replicas per instance.
func NewConsistentHash(replicas int, logger *zap.Logger) *ConsistentHash {
	if replicas <= 0 {
		replicas = defaultVirtualReplicas
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ConsistentHash{
		replicas: replicas,
		logger:   logger,
		owner:    make(map[uint32]string),
	}
}

// Name implements Strategy.
func (ch *ConsistentHash) Name() string { return string(KindConsistentHash) }

// InstanceRegistered implements registry.MembershipListener.
func (ch *ConsistentHash) InstanceRegistered(instance *registry.ServiceInstance) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for i := 0; i < ch.replicas; i++ {
		h := hashKey(fmt.Sprintf("%s:%d", instance.ID, i))
		ch.ring = append(ch.ring, h)
		ch.owner[h] = instance.ID
	}
	sort.Slice(ch.ring, func(i, j int) bool { return ch.ring[i] < ch.ring[j] })

	ch.logger.Debug("Instance added to hash ring",
		zap.String("instance_id", instance.ID),
		zap.Int("virtual_nodes", ch.replicas),
	)
}

// InstanceDeregistered implements registry.MembershipListener.
func (ch *ConsistentHash) InstanceDeregistered(id string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	kept := ch.ring[:0]
	for _, h := range ch.ring {
		if ch.owner[h] == id {
			delete(ch.owner, h)
			continue
		}
		kept = append(kept, h)
	}
	ch.ring = kept

	ch.logger.Debug("Instance removed from hash ring", zap.String("instance_id", id))
}

// Select implements Strategy. For a fixed instance set the same routing key
// always maps to the same instance.
func (ch *ConsistentHash) Select(candidates []*registry.ServiceInstance, rc RequestContext) (*registry.ServiceInstance, error) {
	if len(candidates) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	eligible := make(map[string]*registry.ServiceInstance, len(candidates))
	for _, inst := range candidates {
		eligible[inst.ID] = inst
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()

	if len(ch.ring) == 0 {
		return nil, ErrNoInstanceAvailable
	}

	h := hashKey(rc.routingKey())
	start := sort.Search(len(ch.ring), func(i int) bool { return ch.ring[i] >= h })
	if start == len(ch.ring) {
		start = 0
	}

	// Walk the ring clockwise past entries whose owner is not eligible.
	for i := 0; i < len(ch.ring); i++ {
		ownerID := ch.owner[ch.ring[(start+i)%len(ch.ring)]]
		if inst, ok := eligible[ownerID]; ok {
			return inst, nil
		}
	}

	return nil, ErrNoInstanceAvailable
}

func hashKey(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}
