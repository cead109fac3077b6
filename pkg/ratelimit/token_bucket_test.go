package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fixedClock drives the limiter's time in tests.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(t *testing.T) (*TokenBucketLimiter, *fixedClock) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	l := NewTokenBucketLimiter(zaptest.NewLogger(t))
	l.now = func() time.Time { return clock.now }
	return l, clock
}

func TestTokenBucketBurstThenReject(t *testing.T) {
	// 5 requests per 10s window: five immediate checks pass, the sixth is
	// rejected with RetryAfter equal to the window.
	l, _ := newTestLimiter(t)
	rule, err := NewRule(5, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := l.Check(context.Background(), "ip:1.2.3.4", rule)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "check %d", i+1)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := l.Check(context.Background(), "ip:1.2.3.4", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 10*time.Second, res.RetryAfter)
}

func TestTokenBucketRefill(t *testing.T) {
	l, clock := newTestLimiter(t)
	rule, err := NewRule(5, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		res, err := l.Check(context.Background(), "s", rule)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	// Refill rate is 0.5 tokens/s; after 2 seconds exactly one request fits.
	clock.advance(2 * time.Second)

	res, err := l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestTokenBucketRefillCapsAtCapacity(t *testing.T) {
	l, clock := newTestLimiter(t)
	rule, err := NewRule(5, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	res, err := l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clock.advance(time.Hour)

	assert.InDelta(t, 5.0, l.Tokens("s", rule), 1e-9)
}

func TestTokenBucketDenialDoesNotConsume(t *testing.T) {
	l, clock := newTestLimiter(t)
	rule, err := NewRule(5, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Check(context.Background(), "s", rule)
		require.NoError(t, err)
	}

	clock.advance(time.Second) // 0.5 tokens, not enough for admission
	before := l.Tokens("s", rule)

	res, err := l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	assert.InDelta(t, before, l.Tokens("s", rule), 1e-9)
}

func TestTokenBucketSubjectsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	rule, err := NewRule(1, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	res, err := l.Check(context.Background(), "ip:1.1.1.1", rule)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Check(context.Background(), "ip:1.1.1.1", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Check(context.Background(), "ip:2.2.2.2", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "a different subject has its own bucket")
}

func TestTokenBucketReset(t *testing.T) {
	l, _ := newTestLimiter(t)
	rule, err := NewRule(1, 10*time.Second, ScopeIP)
	require.NoError(t, err)

	res, err := l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	l.Reset("s", rule)

	res, err = l.Check(context.Background(), "s", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "reset buckets start full again")
}
