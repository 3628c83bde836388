package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	t.Run("Should connect by address and answer health checks", func(t *testing.T) {
		mr := miniredis.RunT(t)
		r, err := NewRedis(t.Context(), &Config{Addr: mr.Addr(), PoolSize: 2})
		require.NoError(t, err)
		require.NoError(t, r.HealthCheck(t.Context()))
		require.NoError(t, r.Client().Set(t.Context(), "k", "v", time.Minute).Err())
		mr.CheckGet(t, "k", "v")
		require.NoError(t, r.Close())
		require.NoError(t, r.Close())
	})

	t.Run("Should connect by URL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		r, err := NewRedis(t.Context(), &Config{URL: "redis://" + mr.Addr() + "/0"})
		require.NoError(t, err)
		defer r.Close()
		require.NoError(t, r.HealthCheck(t.Context()))
	})

	t.Run("Should fail fast when the server is down", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, err := NewRedis(t.Context(), &Config{Addr: addr, PingTimeout: 200 * time.Millisecond})
		require.Error(t, err)
	})

	t.Run("Should reject a missing config or address", func(t *testing.T) {
		_, err := NewRedis(t.Context(), nil)
		require.Error(t, err)
		_, err = NewRedis(t.Context(), &Config{})
		require.ErrorContains(t, err, "addr is required")
	})
}
