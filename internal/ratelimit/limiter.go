// Package ratelimit throttles provisioning requests per user with a sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Defaults allow five requests per user in any five second window.
const (
	DefaultLimit   = 5
	DefaultWindow  = 5 * time.Second
	DefaultMaxKeys = 100_000
)

// Limiter decides whether a user may make another request.
type Limiter interface {
	// Allow records a request by userID and reports whether it is within the limit.
	// Rejected requests are not counted against the window.
	Allow(ctx context.Context, userID int64) (bool, error)
}

// Config configures a sliding window limiter.
type Config struct {
	// Limit is the maximum number of requests per window.
	Limit int

	// Window is the sliding window length.
	Window time.Duration

	// MaxKeys bounds the number of users tracked in memory.
	MaxKeys int

	// KeyPrefix namespaces Redis keys.
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = DefaultMaxKeys
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "hostbot:ratelimit"
	}
	return c
}

// Unlimited allows every request.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, int64) (bool, error) {
	return true, nil
}
