package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiter_UnavailableRedisReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()

	l := NewRedisLimiter(client, Config{})

	ok, err := l.Allow(context.Background(), 1)
	require.Error(t, err)
	require.False(t, ok)
}

func TestRedisLimiter_Key(t *testing.T) {
	l := NewRedisLimiter(nil, Config{KeyPrefix: "bot:rl"})
	require.Equal(t, "bot:rl:42", l.key(42))

	l = NewRedisLimiter(nil, Config{})
	require.Equal(t, "hostbot:ratelimit:42", l.key(42))
}
