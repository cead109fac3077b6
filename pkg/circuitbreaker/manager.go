package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Manager hands out one circuit breaker per upstream target id.
type Manager struct {
	defaultConfig *Config
	logger        *zap.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewManager creates a breaker manager using defaultConfig for new breakers.
func NewManager(defaultConfig *Config, logger *zap.Logger) *Manager {
	if defaultConfig == nil {
		defaultConfig = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		defaultConfig: defaultConfig,
		logger:        logger,
		breakers:      make(map[string]*CircuitBreaker),
	}
}

// GetOrCreate returns the breaker for the target, creating one on first use.
func (m *Manager) GetOrCreate(target string) *CircuitBreaker {
	m.mu.RLock()
	if cb, exists := m.breakers[target]; exists {
		m.mu.RUnlock()
		return cb
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := m.breakers[target]; exists {
		return cb
	}

	cb := New(target, m.defaultConfig, m.logger)
	m.breakers[target] = cb

	m.logger.Debug("Circuit breaker created",
		zap.String("target", target),
		zap.Int("failure_threshold", m.defaultConfig.FailureThreshold),
		zap.Duration("open_timeout", m.defaultConfig.OpenTimeout),
	)

	return cb
}

// Get returns the breaker for the target if one exists.
func (m *Manager) Get(target string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cb, exists := m.breakers[target]
	return cb, exists
}

// Remove drops the breaker for a deregistered target.
func (m *Manager) Remove(target string) {
	m.mu.Lock()
	delete(m.breakers, target)
	m.mu.Unlock()
}

// States returns the current state of every managed breaker.
func (m *Manager) States() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[string]State, len(m.breakers))
	for target, cb := range m.breakers {
		states[target] = cb.State()
	}
	return states
}
