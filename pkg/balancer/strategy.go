// Package balancer implements the closed set of load balancing strategies
// used by the router. Exactly one strategy is active at a time, selected by
// configuration.
package balancer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/isectech/routing-core/pkg/registry"
)

// ErrNoInstanceAvailable is returned when a strategy is asked to select from
// an empty healthy set, or a consistent hash walk exhausts the ring.
var ErrNoInstanceAvailable = errors.New("no instance available")

// Kind identifies a load balancing strategy.
type Kind string

const (
	KindRoundRobin         Kind = "round_robin"
	KindWeightedRoundRobin Kind = "weighted_round_robin"
	KindLeastConnections   Kind = "least_connections"
	KindResponseTimeAware  Kind = "response_time"
	KindConsistentHash     Kind = "consistent_hash"
)

// RequestContext carries the caller identity used for routing decisions.
// Consistent hashing derives its routing key from it; other strategies
// ignore it.
type RequestContext struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// routingKey returns the key consistent hashing routes on: user id when
// present, then session id, then the fixed fallback.
func (rc RequestContext) routingKey() string {
	if rc.UserID != "" {
		return rc.UserID
	}
	if rc.SessionID != "" {
		return rc.SessionID
	}
	return "default"
}

// Strategy selects one instance from the candidate set. Candidates are the
// healthy, breaker-admitted instances the router assembled for this request;
// strategies never consult the registry directly.
type Strategy interface {
	Name() string
	Select(candidates []*registry.ServiceInstance, rc RequestContext) (*registry.ServiceInstance, error)
}

// New constructs the strategy for the given kind. The consistent hash
// strategy additionally implements registry.MembershipListener and must be
// subscribed to the registry by the composition root.
func New(kind Kind, logger *zap.Logger) (Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch kind {
	case KindRoundRobin:
		return NewRoundRobin(), nil
	case KindWeightedRoundRobin:
		return NewWeightedRoundRobin(), nil
	case KindLeastConnections:
		return NewLeastConnections(), nil
	case KindResponseTimeAware:
		return NewResponseTimeAware(), nil
	case KindConsistentHash:
		return NewConsistentHash(defaultVirtualReplicas, logger), nil
	default:
		return nil, fmt.Errorf("unknown load balancing strategy %q", kind)
	}
}
