package ratelimit

import (
	"context"
	"errors"
)

// ErrRateLimited signals that admission was denied. Callers receive it
// alongside the Result so the condition is a typed return, not a panic or a
// header-only signal.
var ErrRateLimited = errors.New("rate limited")

// Checker is a rate limiting backend. Implementations must be safe for
// concurrent use.
type Checker interface {
	// Check decides whether one request by subject may proceed under rule.
	// The returned Result always carries Limit/Remaining/Reset; RetryAfter is
	// set on denial. Backend connectivity failures never surface as errors;
	// they are resolved by the backend's configured failure policy.
	Check(ctx context.Context, subject string, rule Rule) (Result, error)
}

// FailurePolicy dictates the decision when a shared-store backend cannot be
// reached. There is deliberately no implicit default: configuration must
// choose one.
type FailurePolicy string

const (
	// FailOpen allows requests when the backend is unavailable.
	FailOpen FailurePolicy = "fail_open"
	// FailClosed denies requests when the backend is unavailable.
	FailClosed FailurePolicy = "fail_closed"
)

// Validate rejects unknown or unset policies.
func (p FailurePolicy) Validate() error {
	switch p {
	case FailOpen, FailClosed:
		return nil
	case "":
		return errors.New("rate limit failure policy must be configured explicitly")
	default:
		return errors.New("unknown rate limit failure policy: " + string(p))
	}
}
