package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/lock"
	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/ratelimit"
)

// DefaultProvisionLockTTL is the provisioning lock lease. A running
// provisioning keeps renewing it, so it only bounds how long a crashed
// run blocks the user.
const DefaultProvisionLockTTL = 5 * time.Minute

// provisionGuard serializes provisioning runs of one user. The bot and the
// admin paths share the lock key, so a user never gets two runs at once.
// The lock is kept alive for as long as the run lasts.
type provisionGuard struct {
	locker lock.Locker
	ttl    time.Duration
	logger zerolog.Logger
}

func newProvisionGuard(locker lock.Locker, ttl time.Duration, logger zerolog.Logger) provisionGuard {
	if ttl <= 0 {
		ttl = DefaultProvisionLockTTL
	}
	return provisionGuard{locker: locker, ttl: ttl, logger: logger}
}

// run calls fn while holding the user's provisioning lock. fn receives a
// context that is cancelled if the lock is lost.
func (g provisionGuard) run(ctx context.Context, telegramID int64, fn func(ctx context.Context) (*ProvisionResult, error)) (*ProvisionResult, error) {
	l := lock.NewLock(g.locker, lock.Keys.Provision(telegramID))
	acquired, err := l.Acquire(ctx, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire provisioning lock: %v", ErrInternalError, err)
	}
	if !acquired {
		return nil, ErrProvisionBusy
	}

	runCtx, stop := l.KeepAlive(ctx, g.ttl)
	defer func() {
		stop()
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			g.logger.Error().Err(err).Int64("user_id", telegramID).Msg("failed to release provisioning lock")
		}
	}()

	result, err := fn(runCtx)
	if err != nil && errors.Is(context.Cause(runCtx), lock.ErrLockLost) {
		g.logger.Error().Int64("user_id", telegramID).Msg("provisioning lock lost during run")
	}
	return result, err
}

// BotService is the entry point for a user's "get a server" request.
type BotService struct {
	limiter     ratelimit.Limiter
	guard       provisionGuard
	gate        *EligibilityGate
	provisioner *ProvisioningService
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewBotService creates a new BotService.
// A nil limiter disables rate limiting.
func NewBotService(
	limiter ratelimit.Limiter,
	locker lock.Locker,
	gate *EligibilityGate,
	provisioner *ProvisioningService,
	lockTTL time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *BotService {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	logger = logger.With().Str("service", "bot").Logger()
	return &BotService{
		limiter:     limiter,
		guard:       newProvisionGuard(locker, lockTTL, logger),
		gate:        gate,
		provisioner: provisioner,
		metrics:     m,
		logger:      logger,
	}
}

// RequestServer rate-limits, locks, gates and provisions a server for the user.
// Concurrent requests for the same user get ErrProvisionBusy.
func (s *BotService) RequestServer(ctx context.Context, telegramID int64, progress func(ProgressEvent)) (*ProvisionResult, error) {
	allowed, err := s.limiter.Allow(ctx, telegramID)
	if err != nil {
		// A broken limiter must not lock users out.
		s.logger.Warn().Err(err).Int64("user_id", telegramID).Msg("rate limiter failed")
		allowed = true
	}
	if !allowed {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.Inc()
		}
		return nil, ErrRateLimited
	}

	return s.guard.run(ctx, telegramID, func(ctx context.Context) (*ProvisionResult, error) {
		eligibility, err := s.gate.Check(ctx, telegramID)
		if err != nil {
			return nil, err
		}
		return s.provisioner.Provision(ctx, eligibility.Request(progress))
	})
}
