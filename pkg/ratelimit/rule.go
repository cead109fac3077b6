// Package ratelimit implements per-subject admission control with two
// interchangeable backends: a local token bucket and a Redis-backed sliding
// window shared across router processes.
package ratelimit

import (
	"fmt"
	"strconv"
	"time"
)

// Scope determines how the subject key for a rule is constructed.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeIP     Scope = "ip"
	ScopeAPIKey Scope = "api_key"
)

// Rule is an immutable rate limit rule.
type Rule struct {
	// Requests is the number of requests allowed per window.
	Requests int
	// Window is the limiting interval.
	Window time.Duration
	// Burst is the burst allowance, default 2x Requests. Reserved for
	// burst-tolerant backends; the built-in backends enforce Requests.
	Burst int
	// Scope selects the subject key construction.
	Scope Scope
}

// NewRule validates and constructs a rule. Burst defaults to twice the
// allowed requests when zero.
func NewRule(requests int, window time.Duration, scope Scope) (Rule, error) {
	if requests <= 0 {
		return Rule{}, fmt.Errorf("requests must be positive, got %d", requests)
	}
	if window <= 0 {
		return Rule{}, fmt.Errorf("window must be positive, got %v", window)
	}

	switch scope {
	case ScopeGlobal, ScopeUser, ScopeIP, ScopeAPIKey:
	default:
		return Rule{}, fmt.Errorf("unknown rate limit scope %q", scope)
	}

	return Rule{
		Requests: requests,
		Window:   window,
		Burst:    2 * requests,
		Scope:    scope,
	}, nil
}

// refillRate returns the token refill rate in tokens per second.
func (r Rule) refillRate() float64 {
	return float64(r.Requests) / r.Window.Seconds()
}

// bucketKey identifies the (subject, rule) bucket.
func (r Rule) bucketKey(subject string) string {
	return fmt.Sprintf("%s:%dr_%ds", subject, r.Requests, int(r.Window.Seconds()))
}

// SubjectKey builds the rate limiting subject for a rule from the caller's
// identity (user id or API key) and address.
func SubjectKey(rule Rule, identity, ip string) string {
	switch rule.Scope {
	case ScopeGlobal:
		return "global"
	case ScopeUser:
		return "user:" + identity
	case ScopeAPIKey:
		return "apikey:" + identity
	case ScopeIP:
		return "ip:" + ip
	default:
		return "ip:" + ip
	}
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Headers renders the result as standard rate limit response headers.
// Retry-After is only present on rejection.
func (r Result) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.Reset.Unix(), 10),
	}
	if !r.Allowed {
		headers["Retry-After"] = strconv.Itoa(int(r.RetryAfter.Seconds()))
	}
	return headers
}
