// Package healthshare publishes per-instance health snapshots to a shared
// Redis store so sibling routers can observe fleet health without probing
// every instance themselves.
package healthshare

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/isectech/routing-core/pkg/registry"
)

// Config represents shared health store configuration.
type Config struct {
	// KeyPrefix namespaces the snapshot keys, default "instance_health".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`

	// TTL is the snapshot expiry. Snapshots follow the same TTL discipline as
	// the rate limit keys: one publish interval plus a second of slack.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns the default health share configuration.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "instance_health",
		TTL:       31 * time.Second,
	}
}

// Store persists instance health snapshots in Redis, msgpack encoded.
type Store struct {
	client redis.UniversalClient
	config *Config
	logger *zap.Logger
}

// NewStore creates a shared health store.
func NewStore(client redis.UniversalClient, config *Config, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "instance_health"
	}
	if config.TTL <= 0 {
		config.TTL = 31 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Publish stores the snapshot under instance_health:{id} with the configured
// TTL. Publish failures are returned for the caller to log; a missed publish
// only delays sibling visibility until the next probe cycle.
func (s *Store) Publish(ctx context.Context, snapshot registry.InstanceSnapshot) error {
	data, err := msgpack.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "failed to encode health snapshot")
	}

	key := s.config.KeyPrefix + ":" + snapshot.ID
	if err := s.client.Set(ctx, key, data, s.config.TTL).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish health snapshot for %s", snapshot.ID)
	}

	s.logger.Debug("Health snapshot published",
		zap.String("instance_id", snapshot.ID),
		zap.Float64("health_score", snapshot.HealthScore),
	)

	return nil
}

// Snapshot reads back the stored snapshot for an instance id. A missing key
// returns redis.Nil wrapped in the error chain.
func (s *Store) Snapshot(ctx context.Context, id string) (registry.InstanceSnapshot, error) {
	var snapshot registry.InstanceSnapshot

	data, err := s.client.Get(ctx, s.config.KeyPrefix+":"+id).Bytes()
	if err != nil {
		return snapshot, errors.Wrapf(err, "failed to read health snapshot for %s", id)
	}

	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return snapshot, errors.Wrapf(err, "failed to decode health snapshot for %s", id)
	}

	return snapshot, nil
}
