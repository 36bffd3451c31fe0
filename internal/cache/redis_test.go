package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisCache(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
		assert.True(t, mr.Exists(redisKeyPrefix+"k"), "keys are namespaced")
	})

	t.Run("Miss", func(t *testing.T) {
		got, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
		mr.FastForward(2 * time.Second)
		got, err := c.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "gone", []byte("v"), time.Minute))
		require.NoError(t, c.Delete(ctx, "gone"))
		got, err := c.Get(ctx, "gone")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Result", func(t *testing.T) {
		require.NoError(t, c.SetResult(ctx, "digest", sampleResult(), time.Hour))
		res, err := c.GetResult(ctx, "digest")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, "RING_001", res.Report.FraudRings[0].RingID)
		assert.Equal(t, sampleResult().Summary, res.Summary)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})
}

func TestRedisCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisCache(addr, "", 0)
	assert.Error(t, err)
}

func TestTwoPhaseCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	remote, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer remote.Close()

	local := NewLRUCache(10)
	c := newTwoPhase(local, remote, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetResult(ctx, "digest", sampleResult(), time.Hour))
	assert.True(t, mr.Exists(redisKeyPrefix+resultPrefix+"digest"), "written through to redis")

	size, _ := c.Stats()
	assert.Equal(t, 1, size)

	// A cold L1 is refilled from L2.
	require.NoError(t, local.Delete(ctx, resultPrefix+"digest"))
	res, err := c.GetResult(ctx, "digest")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Report.Summary.FraudRingsDetected)

	size, _ = c.Stats()
	assert.Equal(t, 1, size)

	// L1 answers while redis is down.
	mr.Close()
	res, err = c.GetResult(ctx, "digest")
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Error(t, c.Ping(ctx))
}
