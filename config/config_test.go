package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isectech/routing-core/pkg/logging"
	"github.com/isectech/routing-core/pkg/ratelimit"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, logging.LevelInfo, cfg.Logging.Level)
	assert.Equal(t, "round_robin", cfg.Strategy)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.CircuitBreaker.OpenTimeout)
	assert.Equal(t, "token_bucket", cfg.RateLimit.Backend)
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.HealthProbe.Interval)
	assert.Equal(t, time.Minute, cfg.AutoScaler.Interval)
	assert.Equal(t, 1, cfg.AutoScaler.Policy.MinInstances)
	assert.Equal(t, 10, cfg.AutoScaler.Policy.MaxInstances)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.False(t, cfg.HealthShare.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
strategy: consistent_hash
rate_limit:
  backend: sliding_window
  requests: 50
  window: 30s
  scope: user
  failure_policy: fail_closed
instances:
  - id: api-1
    address: 10.0.0.1:8080
    weight: 2
standby_addresses:
  - 10.0.0.9:8080
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "consistent_hash", cfg.Strategy)
	assert.Equal(t, "sliding_window", cfg.RateLimit.Backend)
	assert.Equal(t, 50, cfg.RateLimit.Requests)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "fail_closed", cfg.RateLimit.FailurePolicy)
	require.Len(t, cfg.Instances, 1)
	assert.Equal(t, "api-1", cfg.Instances[0].ID)
	assert.Equal(t, 2, cfg.Instances[0].Weight)
	assert.Equal(t, []string{"10.0.0.9:8080"}, cfg.StandbyAddresses)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ROUTING_STRATEGY", "least_connections")
	t.Setenv("ROUTING_RATE_LIMIT_REQUESTS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "least_connections", cfg.Strategy)
	assert.Equal(t, 7, cfg.RateLimit.Requests)
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Strategy = "fastest_first"
	assert.Error(t, cfg.Validate())
}

func TestValidateSlidingWindowRequiresFailurePolicy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.RateLimit.Backend = "sliding_window"
	cfg.RateLimit.FailurePolicy = ""
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.FailurePolicy = string(ratelimit.FailOpen)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadRateLimit(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.RateLimit.Requests = 0
	assert.Error(t, cfg.Validate())

	cfg.RateLimit.Requests = 10
	cfg.RateLimit.Window = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyInstanceAddress(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Instances = []InstanceConfig{{ID: "api-1"}}
	assert.Error(t, cfg.Validate())
}

func TestRule(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	rule, err := cfg.Rule()
	require.NoError(t, err)
	assert.Equal(t, 100, rule.Requests)
	assert.Equal(t, time.Minute, rule.Window)
	assert.Equal(t, ratelimit.ScopeIP, rule.Scope)
}
