package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummyLimiter_AlwaysZero(t *testing.T) {
	var lim DummyLimiter
	ctx := context.Background()

	sum, err := lim.Fetch(ctx, "tokens", "user-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)

	sum, err = lim.Record(ctx, "tokens", "user-1", 500, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)
}

func newTestRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client)
}

func TestRedisLimiter_RecordAccumulatesWithinWindow(t *testing.T) {
	lim := newTestRedisLimiter(t)
	ctx := context.Background()
	window := time.Minute

	sum, err := lim.Record(ctx, "tokens", "user-1", 100, window)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), sum)

	sum, err = lim.Record(ctx, "tokens", "user-1", 50, window)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), sum)
}

func TestRedisLimiter_FetchDoesNotRecord(t *testing.T) {
	lim := newTestRedisLimiter(t)
	ctx := context.Background()
	window := time.Minute

	sum, err := lim.Fetch(ctx, "tokens", "user-1", window)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)

	_, err = lim.Record(ctx, "tokens", "user-1", 10, window)
	require.NoError(t, err)

	sum, err = lim.Fetch(ctx, "tokens", "user-1", window)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sum)
}

func TestRedisLimiter_EvictsEntriesOutsideWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	lim := NewRedisLimiter(client)
	ctx := context.Background()

	_, err := lim.Record(ctx, "tokens", "user-1", 100, time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	sum, err := lim.Fetch(ctx, "tokens", "user-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)
}

func TestRedisLimiter_SubjectsAreIsolated(t *testing.T) {
	lim := newTestRedisLimiter(t)
	ctx := context.Background()
	window := time.Minute

	_, err := lim.Record(ctx, "tokens", "user-1", 100, window)
	require.NoError(t, err)

	sum, err := lim.Fetch(ctx, "tokens", "user-2", window)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)
}

func TestRedisLimiter_ResourcesAreIsolated(t *testing.T) {
	lim := newTestRedisLimiter(t)
	ctx := context.Background()
	window := time.Minute

	_, err := lim.Record(ctx, "tokens", "user-1", 100, window)
	require.NoError(t, err)

	sum, err := lim.Fetch(ctx, "requests", "user-1", window)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), sum)
}
