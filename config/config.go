// Package config loads the routing core configuration via viper, with
// defaults, optional config file and ROUTING_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/isectech/routing-core/pkg/autoscaler"
	"github.com/isectech/routing-core/pkg/balancer"
	"github.com/isectech/routing-core/pkg/circuitbreaker"
	"github.com/isectech/routing-core/pkg/healthprobe"
	"github.com/isectech/routing-core/pkg/logging"
	"github.com/isectech/routing-core/pkg/ratelimit"
)

// Config is the full routing core configuration.
type Config struct {
	Logging        logging.Config        `mapstructure:"logging"`
	Strategy       string                `mapstructure:"strategy"`
	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig       `mapstructure:"rate_limit"`
	Redis          RedisConfig           `mapstructure:"redis"`
	HealthProbe    healthprobe.Config    `mapstructure:"health_probe"`
	AutoScaler     autoscaler.Config     `mapstructure:"auto_scaler"`
	HealthShare    HealthShareConfig     `mapstructure:"health_share"`

	// MetricsAddr is the prometheus scrape listen address. Empty disables the
	// metrics listener.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Instances are registered at startup.
	Instances []InstanceConfig `mapstructure:"instances"`

	// StandbyAddresses is the pool the auto scaler provisions from. Scale-ups
	// fail once the pool is exhausted.
	StandbyAddresses []string `mapstructure:"standby_addresses"`
}

// InstanceConfig is one statically configured backend instance.
type InstanceConfig struct {
	ID      string `mapstructure:"id"`
	Address string `mapstructure:"address"`
	Weight  int    `mapstructure:"weight"`
}

// RateLimitConfig selects and parameterizes the admission control backend.
type RateLimitConfig struct {
	// Backend is "token_bucket" (local) or "sliding_window" (Redis).
	Backend string `mapstructure:"backend"`

	// Requests allowed per Window.
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Scope    string        `mapstructure:"scope"`

	// FailurePolicy for the sliding window backend: "fail_open" or
	// "fail_closed". Required when Backend is "sliding_window"; there is no
	// implicit default.
	FailurePolicy string `mapstructure:"failure_policy"`
}

// RedisConfig represents the shared store connection.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HealthShareConfig toggles shared health snapshot publication.
type HealthShareConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from the optional file path and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROUTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", string(logging.LevelInfo))
	v.SetDefault("logging.format", string(logging.FormatJSON))
	v.SetDefault("logging.service_name", "routing-core")
	v.SetDefault("logging.environment", "development")

	v.SetDefault("strategy", string(balancer.KindRoundRobin))

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.open_timeout", time.Minute)

	v.SetDefault("rate_limit.backend", "token_bucket")
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.scope", string(ratelimit.ScopeIP))
	v.SetDefault("rate_limit.failure_policy", string(ratelimit.FailOpen))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("health_probe.interval", 30*time.Second)
	v.SetDefault("health_probe.timeout", 5*time.Second)
	v.SetDefault("health_probe.path", "/health")
	v.SetDefault("health_probe.max_probes_per_second", 50)

	v.SetDefault("auto_scaler.interval", time.Minute)
	v.SetDefault("auto_scaler.drain_timeout", 30*time.Second)
	v.SetDefault("auto_scaler.drain_poll_interval", time.Second)
	v.SetDefault("auto_scaler.policy.min_instances", 1)
	v.SetDefault("auto_scaler.policy.max_instances", 10)
	v.SetDefault("auto_scaler.policy.cpu_scale_up_threshold", 0.8)
	v.SetDefault("auto_scaler.policy.cpu_scale_down_threshold", 0.3)
	v.SetDefault("auto_scaler.policy.response_time_threshold", 1.0)
	v.SetDefault("auto_scaler.policy.error_rate_threshold", 0.1)
	v.SetDefault("auto_scaler.policy.scale_up_cooldown", 3*time.Minute)
	v.SetDefault("auto_scaler.policy.scale_down_cooldown", 5*time.Minute)

	v.SetDefault("health_share.enabled", false)
	v.SetDefault("health_share.ttl", 31*time.Second)

	v.SetDefault("metrics_addr", ":9090")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch balancer.Kind(c.Strategy) {
	case balancer.KindRoundRobin, balancer.KindWeightedRoundRobin,
		balancer.KindLeastConnections, balancer.KindResponseTimeAware,
		balancer.KindConsistentHash:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	switch c.RateLimit.Backend {
	case "token_bucket":
	case "sliding_window":
		if err := ratelimit.FailurePolicy(c.RateLimit.FailurePolicy).Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}

	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}

	if err := c.AutoScaler.Policy.Validate(); err != nil {
		return err
	}

	for i, inst := range c.Instances {
		if inst.Address == "" {
			return fmt.Errorf("instances[%d].address must not be empty", i)
		}
	}

	return nil
}

// Rule builds the configured rate limit rule.
func (c *Config) Rule() (ratelimit.Rule, error) {
	return ratelimit.NewRule(c.RateLimit.Requests, c.RateLimit.Window, ratelimit.Scope(c.RateLimit.Scope))
}
