package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// responseWindowCapacity bounds the per-instance rolling response time window.
const responseWindowCapacity = 100

// Health eligibility thresholds for routing.
const (
	healthyScoreFloor = 0.5
	maxErrorCount     = 10
)

// ServiceInstance represents a single backend instance managed by the router.
// All mutable state is guarded by an internal mutex so that the request path,
// the health probe loop and the auto scaler can update it concurrently.
type ServiceInstance struct {
	ID      string `json:"id" yaml:"id"`
	Address string `json:"address" yaml:"address"`
	Weight  int    `json:"weight" yaml:"weight"`

	mu                sync.RWMutex
	healthScore       float64
	activeConnections int
	errorCount        int
	lastHealthCheck   time.Time

	// Rolling response time window, newest first, bounded at
	// responseWindowCapacity samples.
	window []float64
}

// NewServiceInstance creates a service instance. An empty id is replaced with
// a generated UUID; weights below 1 are clamped to 1.
func NewServiceInstance(id, address string, weight int) *ServiceInstance {
	if id == "" {
		id = uuid.New().String()
	}
	if weight < 1 {
		weight = 1
	}

	return &ServiceInstance{
		ID:          id,
		Address:     address,
		Weight:      weight,
		healthScore: 1.0,
		window:      make([]float64, 0, responseWindowCapacity),
	}
}

// IsHealthy reports whether the instance is eligible for routing.
func (si *ServiceInstance) IsHealthy() bool {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.healthScore > healthyScoreFloor && si.errorCount < maxErrorCount
}

// HealthScore returns the current health score in [0, 1].
func (si *ServiceInstance) HealthScore() float64 {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.healthScore
}

// SetHealthScore stores a new health score, clamped to [0, 1].
func (si *ServiceInstance) SetHealthScore(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	si.mu.Lock()
	si.healthScore = score
	si.mu.Unlock()
}

// ActiveConnections returns the number of in-flight requests on the instance.
func (si *ServiceInstance) ActiveConnections() int {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.activeConnections
}

// IncActiveConnections increments the in-flight request counter.
func (si *ServiceInstance) IncActiveConnections() {
	si.mu.Lock()
	si.activeConnections++
	si.mu.Unlock()
}

// DecActiveConnections decrements the in-flight request counter, never below
// zero.
func (si *ServiceInstance) DecActiveConnections() {
	si.mu.Lock()
	if si.activeConnections > 0 {
		si.activeConnections--
	}
	si.mu.Unlock()
}

// ErrorCount returns the accumulated error count.
func (si *ServiceInstance) ErrorCount() int {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.errorCount
}

// AddErrors increases the error count by n.
func (si *ServiceInstance) AddErrors(n int) {
	si.mu.Lock()
	si.errorCount += n
	si.mu.Unlock()
}

// DecayError decrements the error count by one, never below zero. The health
// probe calls this after each successful probe.
func (si *ServiceInstance) DecayError() {
	si.mu.Lock()
	if si.errorCount > 0 {
		si.errorCount--
	}
	si.mu.Unlock()
}

// LastHealthCheck returns the time of the most recent probe.
func (si *ServiceInstance) LastHealthCheck() time.Time {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return si.lastHealthCheck
}

// SetLastHealthCheck records the time of the most recent probe.
func (si *ServiceInstance) SetLastHealthCheck(t time.Time) {
	si.mu.Lock()
	si.lastHealthCheck = t
	si.mu.Unlock()
}

// RecordResponseTime appends a response time sample (in seconds) to the
// rolling window, evicting the oldest sample once the window is full.
func (si *ServiceInstance) RecordResponseTime(seconds float64) {
	si.mu.Lock()
	defer si.mu.Unlock()

	if len(si.window) == responseWindowCapacity {
		si.window = si.window[:responseWindowCapacity-1]
	}
	si.window = append([]float64{seconds}, si.window...)
}

// AvgResponseTime returns the mean of the rolling window and true, or zero and
// false when no samples have been recorded yet.
func (si *ServiceInstance) AvgResponseTime() (float64, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if len(si.window) == 0 {
		return 0, false
	}

	var sum float64
	for _, v := range si.window {
		sum += v
	}
	return sum / float64(len(si.window)), true
}

// SampleCount returns the number of samples currently in the window.
func (si *ServiceInstance) SampleCount() int {
	si.mu.RLock()
	defer si.mu.RUnlock()

	return len(si.window)
}

// Snapshot captures a point-in-time view of the instance state, suitable for
// serialization or aggregate calculations outside the instance lock.
func (si *ServiceInstance) Snapshot() InstanceSnapshot {
	si.mu.RLock()
	defer si.mu.RUnlock()

	avg := 0.0
	if len(si.window) > 0 {
		var sum float64
		for _, v := range si.window {
			sum += v
		}
		avg = sum / float64(len(si.window))
	}

	return InstanceSnapshot{
		ID:                si.ID,
		Address:           si.Address,
		Weight:            si.Weight,
		HealthScore:       si.healthScore,
		ActiveConnections: si.activeConnections,
		ErrorCount:        si.errorCount,
		AvgResponseTime:   avg,
		SampleCount:       len(si.window),
		LastHealthCheck:   si.lastHealthCheck,
		Healthy:           si.healthScore > healthyScoreFloor && si.errorCount < maxErrorCount,
	}
}

// InstanceSnapshot is an immutable copy of instance state.
type InstanceSnapshot struct {
	ID                string    `json:"id" msgpack:"id"`
	Address           string    `json:"address" msgpack:"address"`
	Weight            int       `json:"weight" msgpack:"weight"`
	HealthScore       float64   `json:"health_score" msgpack:"health_score"`
	ActiveConnections int       `json:"active_connections" msgpack:"active_connections"`
	ErrorCount        int       `json:"error_count" msgpack:"error_count"`
	AvgResponseTime   float64   `json:"avg_response_time" msgpack:"avg_response_time"`
	SampleCount       int       `json:"sample_count" msgpack:"sample_count"`
	LastHealthCheck   time.Time `json:"last_health_check" msgpack:"last_health_check"`
	Healthy           bool      `json:"healthy" msgpack:"healthy"`
}

// String implements fmt.Stringer for log friendliness.
func (si *ServiceInstance) String() string {
	return fmt.Sprintf("%s(%s)", si.ID, si.Address)
}
