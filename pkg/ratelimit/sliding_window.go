package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// SlidingWindowConfig configures the shared-store sliding window backend.
type SlidingWindowConfig struct {
	// KeyPrefix namespaces the sorted-set keys, default "rate_limit".
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" json:"key_prefix"`

	// FailurePolicy decides allow/deny when the store is unreachable. It has
	// no implicit default and must be set.
	FailurePolicy FailurePolicy `mapstructure:"failure_policy" yaml:"failure_policy" json:"failure_policy"`

	// BreakerFailureThreshold trips the store breaker after this many
	// consecutive store failures, so a flapping store resolves to the failure
	// policy quickly instead of paying a timeout per check.
	BreakerFailureThreshold uint32 `mapstructure:"breaker_failure_threshold" yaml:"breaker_failure_threshold" json:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the store breaker stays open.
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" yaml:"breaker_open_timeout" json:"breaker_open_timeout"`
}

// DefaultSlidingWindowConfig returns defaults for everything except the
// failure policy, which stays unset on purpose.
func DefaultSlidingWindowConfig() *SlidingWindowConfig {
	return &SlidingWindowConfig{
		KeyPrefix:               "rate_limit",
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}

// SlidingWindowLimiter counts timestamped entries in a Redis sorted set per
// subject. The prune/count/insert/expire sequence executes as one pipeline so
// concurrent callers across processes cannot over- or under-count. Store
// access runs through a circuit breaker; when the store is unavailable the
// configured failure policy decides.
type SlidingWindowLimiter struct {
	client  redis.UniversalClient
	config  *SlidingWindowConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewSlidingWindowLimiter creates a Redis-backed sliding window backend.
func NewSlidingWindowLimiter(client redis.UniversalClient, config *SlidingWindowConfig, logger *zap.Logger) (*SlidingWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config == nil {
		config = DefaultSlidingWindowConfig()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	if err := config.FailurePolicy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := config.BreakerFailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-store",
		Timeout: config.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Rate limit store breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &SlidingWindowLimiter{
		client:  client,
		config:  config,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Check implements Checker.
func (l *SlidingWindowLimiter) Check(ctx context.Context, subject string, rule Rule) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	value, err := l.breaker.Execute(func() (interface{}, error) {
		return l.check(ctx, subject, rule)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return l.resolveFailure(subject, rule, err), nil
	}

	return value.(Result), nil
}

// check runs the four-step window update atomically against the store:
// prune expired entries, count the remainder, insert the current request and
// refresh the key expiry. Admission is decided on the count before insertion.
func (l *SlidingWindowLimiter) check(ctx context.Context, subject string, rule Rule) (Result, error) {
	now := time.Now()
	key := l.key(subject, rule)
	windowStart := now.Add(-rule.Window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: windowMember(now),
	})
	pipe.Expire(ctx, key, rule.Window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, errors.Wrap(err, "rate limit store pipeline failed")
	}

	countBefore := int(countCmd.Val())
	allowed := countBefore < rule.Requests

	remaining := rule.Requests - countBefore - 1
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   allowed,
		Limit:     rule.Requests,
		Remaining: remaining,
		Reset:     now.Add(rule.Window),
	}
	if !allowed {
		result.RetryAfter = rule.Window
	}

	return result, nil
}

// resolveFailure applies the configured failure policy when the store (or
// its breaker) rejected the check.
func (l *SlidingWindowLimiter) resolveFailure(subject string, rule Rule, cause error) Result {
	allowed := l.config.FailurePolicy == FailOpen

	l.logger.Warn("Rate limit store unavailable, applying failure policy",
		zap.String("subject", subject),
		zap.String("policy", string(l.config.FailurePolicy)),
		zap.Bool("allowed", allowed),
		zap.Error(cause),
	)

	result := Result{
		Allowed:   allowed,
		Limit:     rule.Requests,
		Remaining: 0,
		Reset:     time.Now().Add(rule.Window),
	}
	if !allowed {
		result.RetryAfter = rule.Window
	}
	return result
}

// key builds the store key: rate_limit:{subject}:{windowSeconds}.
func (l *SlidingWindowLimiter) key(subject string, rule Rule) string {
	return fmt.Sprintf("%s:%s:%d", l.config.KeyPrefix, subject, int(rule.Window.Seconds()))
}

// windowMember builds the sorted-set member for one admission. The timestamp
// alone is not unique: two checks landing on the same clock tick would
// collapse into one member and undercount the window, so a random suffix
// keeps concurrent entries distinct.
func windowMember(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String())
}
