package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// bucket holds the token state for one (subject, rule) pair. Tokens are
// refilled lazily on each check from the elapsed time since the last refill
// and never exceed capacity.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter is the local, in-process rate limiting backend. One
// token bucket exists per (subject, rule) pair; capacity equals the rule's
// allowed requests and the refill rate is requests/window.
type TokenBucketLimiter struct {
	logger *zap.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewTokenBucketLimiter creates a local token bucket backend.
func NewTokenBucketLimiter(logger *zap.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TokenBucketLimiter{
		logger:  logger,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check implements Checker. A denied check does not consume tokens.
func (l *TokenBucketLimiter) Check(_ context.Context, subject string, rule Rule) (Result, error) {
	b := l.bucketFor(subject, rule)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	capacity := float64(rule.Requests)

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rule.refillRate()
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now

	result := Result{
		Limit: rule.Requests,
		Reset: now.Add(rule.Window),
	}

	if b.tokens >= 1 {
		b.tokens--
		result.Allowed = true
		result.Remaining = int(b.tokens)
		return result, nil
	}

	result.Allowed = false
	result.Remaining = 0
	result.RetryAfter = rule.Window

	l.logger.Debug("Request rejected by token bucket",
		zap.String("subject", subject),
		zap.Int("limit", rule.Requests),
		zap.Duration("window", rule.Window),
	)

	return result, nil
}

// Tokens reports the current token count for a (subject, rule) pair without
// consuming anything, refilling first. Mostly useful for introspection and
// tests.
func (l *TokenBucketLimiter) Tokens(subject string, rule Rule) float64 {
	b := l.bucketFor(subject, rule)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	capacity := float64(rule.Requests)

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rule.refillRate()
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now

	return b.tokens
}

// Reset drops the bucket for a (subject, rule) pair.
func (l *TokenBucketLimiter) Reset(subject string, rule Rule) {
	l.mu.Lock()
	delete(l.buckets, rule.bucketKey(subject))
	l.mu.Unlock()
}

func (l *TokenBucketLimiter) bucketFor(subject string, rule Rule) *bucket {
	key := rule.bucketKey(subject)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		// New buckets start full.
		b = &bucket{
			tokens:     float64(rule.Requests),
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}
	return b
}
