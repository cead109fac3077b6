package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRule(t *testing.T) {
	rule, err := NewRule(100, time.Minute, ScopeIP)
	require.NoError(t, err)

	assert.Equal(t, 100, rule.Requests)
	assert.Equal(t, time.Minute, rule.Window)
	assert.Equal(t, 200, rule.Burst, "burst defaults to twice the allowed requests")
	assert.Equal(t, ScopeIP, rule.Scope)
}

func TestNewRuleValidation(t *testing.T) {
	_, err := NewRule(0, time.Minute, ScopeIP)
	assert.Error(t, err)

	_, err = NewRule(-1, time.Minute, ScopeIP)
	assert.Error(t, err)

	_, err = NewRule(10, 0, ScopeIP)
	assert.Error(t, err)

	_, err = NewRule(10, time.Minute, Scope("tenant"))
	assert.Error(t, err)
}

func TestSubjectKeyScopes(t *testing.T) {
	mk := func(scope Scope) Rule {
		rule, err := NewRule(10, time.Minute, scope)
		require.NoError(t, err)
		return rule
	}

	assert.Equal(t, "global", SubjectKey(mk(ScopeGlobal), "u1", "1.2.3.4"))
	assert.Equal(t, "user:u1", SubjectKey(mk(ScopeUser), "u1", "1.2.3.4"))
	assert.Equal(t, "apikey:k1", SubjectKey(mk(ScopeAPIKey), "k1", "1.2.3.4"))
	assert.Equal(t, "ip:1.2.3.4", SubjectKey(mk(ScopeIP), "u1", "1.2.3.4"))
}

func TestResultHeaders(t *testing.T) {
	reset := time.Unix(1700000000, 0)

	allowed := Result{Allowed: true, Limit: 10, Remaining: 4, Reset: reset}
	h := allowed.Headers()
	assert.Equal(t, "10", h["X-RateLimit-Limit"])
	assert.Equal(t, "4", h["X-RateLimit-Remaining"])
	assert.Equal(t, "1700000000", h["X-RateLimit-Reset"])
	assert.NotContains(t, h, "Retry-After")

	denied := Result{Allowed: false, Limit: 10, Reset: reset, RetryAfter: 10 * time.Second}
	h = denied.Headers()
	assert.Equal(t, "0", h["X-RateLimit-Remaining"])
	assert.Equal(t, "10", h["Retry-After"])
}

func TestFailurePolicyValidate(t *testing.T) {
	assert.NoError(t, FailOpen.Validate())
	assert.NoError(t, FailClosed.Validate())
	assert.Error(t, FailurePolicy("").Validate(), "the policy has no implicit default")
	assert.Error(t, FailurePolicy("fail_sometimes").Validate())
}
