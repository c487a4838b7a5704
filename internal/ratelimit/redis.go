package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps the window in a sorted set per user so several bot
// instances share one budget.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

func (l *RedisLimiter) key(userID int64) string {
	return l.cfg.KeyPrefix + ":" + strconv.FormatInt(userID, 10)
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, userID int64) (bool, error) {
	key := l.key(userID)
	now := l.now()
	member := uuid.NewString()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-l.cfg.Window).UnixMicro(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, l.cfg.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	if card.Val() > int64(l.cfg.Limit) {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			return false, fmt.Errorf("rate limit rollback failed: %w", err)
		}
		return false, nil
	}

	return true, nil
}
