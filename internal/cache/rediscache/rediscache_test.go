package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0))

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "k", "missing"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Delete(ctx))
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0))

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(NewClient(mr.Addr(), "", 0))
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(NewClient(mr.Addr(), "", 0))

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(NewClient(mr.Addr(), "", 0))
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "lock:x", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "lock:x", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// A stale token must not release someone else's lock.
	require.NoError(t, l.Release(ctx, "lock:x", "not-mine"))
	require.True(t, mr.Exists("lock:x"))

	require.NoError(t, l.Release(ctx, "lock:x", token))
	require.False(t, mr.Exists("lock:x"))

	_, ok, err = l.Acquire(ctx, "lock:x", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)
	_, ok, err = l.Acquire(ctx, "lock:x", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lock can be taken again")
}
