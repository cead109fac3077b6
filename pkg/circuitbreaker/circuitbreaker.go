package circuitbreaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits exactly one trial request.
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config represents circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`

	// OpenTimeout is how long the breaker stays open before admitting a
	// half-open trial request.
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout" json:"open_timeout"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
	}
}

// CircuitBreaker is a per-target failure isolation state machine. One breaker
// exists per upstream target and is never shared across targets.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
}

// New creates a circuit breaker for the named target.
func New(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
	}
}

// IsEligible reports whether a request could currently proceed to the target,
// without committing anything: an open breaker whose timeout has elapsed is
// eligible but stays open until CanExecute admits the trial. Use this for
// candidate filtering; use CanExecute only for the instance actually chosen,
// otherwise the single half-open trial is consumed by an instance that never
// receives a request and the breaker never leaves half-open.
func (cb *CircuitBreaker) IsEligible() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(cb.lastFailureTime) > cb.config.OpenTimeout
	default:
		// HalfOpen: the trial is already in flight.
		return false
	}
}

// CanExecute reports whether a request may proceed to the target. When the
// breaker is open and the open timeout has elapsed it transitions to half-open
// and admits exactly one trial request.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.config.OpenTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// The single trial request has already been admitted.
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call to the target. In half-open state
// the breaker closes; in closed state the failure count resets.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure reports a failed call to the target. Reaching the failure
// threshold while closed opens the breaker; a failed half-open trial re-opens
// it with the failure count incremented.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.lastFailureTime = time.Now()
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.failureCount++
		cb.lastFailureTime = time.Now()
		cb.transition(StateOpen)
	case StateOpen:
		cb.lastFailureTime = time.Now()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// FailureCount returns the current consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.failureCount
}

// LastFailureTime returns the time of the failure that most recently opened
// the breaker.
func (cb *CircuitBreaker) LastFailureTime() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.lastFailureTime
}

// transition moves the breaker to a new state. Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failure_count", cb.failureCount),
	)
}
