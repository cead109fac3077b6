package autoscaler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticPoolProvisionAndRelease(t *testing.T) {
	pool := NewStaticPoolProvisioner([]string{"10.0.0.1:8080", "10.0.0.2:8080"})
	ctx := context.Background()

	first, err := pool.ProvisionInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", first.Address)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 1, pool.Available())

	second, err := pool.ProvisionInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:8080", second.Address)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = pool.ProvisionInstance(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, pool.DeprovisionInstance(ctx, first.ID))
	assert.Equal(t, 1, pool.Available())

	reused, err := pool.ProvisionInstance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", reused.Address, "released addresses return to the pool")
}

func TestStaticPoolDeprovisionUnknownID(t *testing.T) {
	pool := NewStaticPoolProvisioner([]string{"10.0.0.1:8080"})

	require.NoError(t, pool.DeprovisionInstance(context.Background(), "not-ours"))
	assert.Equal(t, 1, pool.Available(), "unknown ids do not grow the pool")
}

func TestStaticPoolEmpty(t *testing.T) {
	pool := NewStaticPoolProvisioner(nil)

	_, err := pool.ProvisionInstance(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
}
