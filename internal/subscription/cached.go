package subscription

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/cache"
)

// CachedChecker remembers users that passed the check for a while so that
// repeated requests do not call the chat platform each time. Failed or
// incomplete checks are never cached.
type CachedChecker struct {
	next   Checker
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedChecker wraps next with a cache.
func NewCachedChecker(next Checker, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *CachedChecker {
	return &CachedChecker{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.With().Str("service", "subscription_cache").Logger(),
	}
}

func cacheKey(userID int64) string {
	return "subscription:" + strconv.FormatInt(userID, 10)
}

// Check implements Checker. Cache errors fall through to the wrapped checker.
func (c *CachedChecker) Check(ctx context.Context, userID int64) (Status, error) {
	key := cacheKey(userID)

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		return Status{IsSubscribed: true, MeetsTimeRequirement: true, Status: string(cached)}, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("subscription cache read failed")
	}

	status, err := c.next.Check(ctx, userID)
	if err != nil || !status.IsSubscribed || !status.MeetsTimeRequirement {
		return status, err
	}

	if err := c.cache.Set(ctx, key, []byte(status.Status), c.ttl); err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("subscription cache write failed")
	}
	return status, nil
}
