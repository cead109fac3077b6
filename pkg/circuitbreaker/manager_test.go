package circuitbreaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManagerGetOrCreateReturnsSameBreaker(t *testing.T) {
	m := NewManager(testConfig(), zaptest.NewLogger(t))

	a := m.GetOrCreate("api-1")
	b := m.GetOrCreate("api-1")
	other := m.GetOrCreate("api-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
}

func TestManagerGetOrCreateConcurrent(t *testing.T) {
	m := NewManager(testConfig(), zaptest.NewLogger(t))

	breakers := make([]*CircuitBreaker, 16)
	var wg sync.WaitGroup
	for i := range breakers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = m.GetOrCreate("api-1")
		}(i)
	}
	wg.Wait()

	for _, cb := range breakers[1:] {
		assert.Same(t, breakers[0], cb)
	}
}

func TestManagerGetAndRemove(t *testing.T) {
	m := NewManager(testConfig(), zaptest.NewLogger(t))

	_, exists := m.Get("api-1")
	assert.False(t, exists)

	created := m.GetOrCreate("api-1")
	got, exists := m.Get("api-1")
	require.True(t, exists)
	assert.Same(t, created, got)

	m.Remove("api-1")
	_, exists = m.Get("api-1")
	assert.False(t, exists)
}

func TestManagerStates(t *testing.T) {
	m := NewManager(testConfig(), zaptest.NewLogger(t))

	m.GetOrCreate("healthy")
	tripped := m.GetOrCreate("broken")
	for i := 0; i < 5; i++ {
		tripped.RecordFailure()
	}

	states := m.States()
	assert.Equal(t, StateClosed, states["healthy"])
	assert.Equal(t, StateOpen, states["broken"])
}
