package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)

	first, err := NewRedisLock(client, "sweep", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(client, "sweep", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// a non-owner release must not free the key
	require.NoError(t, second.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)

	lock, err := NewRedisLock(client, "sweep", time.Second)
	require.NoError(t, err)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	other, err := NewRedisLock(client, "sweep", time.Second)
	require.NoError(t, err)
	ok, err = other.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// the expired owner must not delete the new holder's key
	require.NoError(t, lock.Release(ctx))
	require.True(t, mr.Exists("sweep"))
}

func TestNewRedisLockValidates(t *testing.T) {
	_, client := newTestRedis(t)
	_, err := NewRedisLock(nil, "k", time.Second)
	require.Error(t, err)
	_, err = NewRedisLock(client, "", time.Second)
	require.Error(t, err)
}
