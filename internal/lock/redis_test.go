package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker_UnavailableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()

	l := NewRedisLocker(client)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, Keys.Provision(1), "holder", time.Minute)
	require.Error(t, err)
	require.False(t, ok)

	released, err := l.Release(ctx, Keys.Provision(1), "holder")
	require.Error(t, err)
	require.False(t, released)

	extended, err := l.Extend(ctx, Keys.Provision(1), "holder", time.Minute)
	require.Error(t, err)
	require.False(t, extended)

	// The wrapper reports the failure and stays unheld.
	wrapped := NewLock(l, Keys.Provision(1))
	ok, err = wrapped.Acquire(ctx, time.Minute)
	require.Error(t, err)
	require.False(t, ok)
	require.False(t, wrapped.IsHeld())
}
