package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), Options{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	assert.NoError(t, c.Healthy(context.Background(), time.Second))
	mr.Close()
	assert.Error(t, c.Healthy(context.Background(), time.Second))
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewClient(context.Background(), Options{Addr: addr, DialTimeout: 100 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}
