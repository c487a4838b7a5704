// Package app wires configuration into the running set of hostbot services.
// Both the server and the admin CLI build their dependencies here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/cache"
	"github.com/cloudspb/hostbot/internal/cache/memory"
	"github.com/cloudspb/hostbot/internal/cache/rediscache"
	"github.com/cloudspb/hostbot/internal/config"
	"github.com/cloudspb/hostbot/internal/lock"
	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/panel"
	"github.com/cloudspb/hostbot/internal/pkg/crypto"
	"github.com/cloudspb/hostbot/internal/ratelimit"
	"github.com/cloudspb/hostbot/internal/repository"
	"github.com/cloudspb/hostbot/internal/repository/backend"
	"github.com/cloudspb/hostbot/internal/service"
	"github.com/cloudspb/hostbot/internal/subscription"
)

// App holds the constructed services and the resources they share.
type App struct {
	Config  *config.Config
	Store   *repository.Store
	Metrics *metrics.Metrics

	Users       *service.UserService
	Admin       *service.AdminService
	Bot         *service.BotService
	Provisioner *service.ProvisioningService

	// Reconciler is nil when the panel is not configured.
	Reconciler *service.Reconciler

	redis      *redis.Client
	locker     lock.Locker
	memCache   *memory.Cache
	memLimiter *ratelimit.MemoryLimiter
	logger     zerolog.Logger
}

// limiterSweepInterval is how often idle users are dropped from the
// in-memory rate limiter.
const limiterSweepInterval = time.Minute

// New opens the database, connects to Redis if enabled and builds every
// service. Migrations run first when cfg.Database.AutoMigrate is set.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := backend.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := store.Database.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	a := &App{
		Config: cfg,
		Store:  store,
		logger: logger,
	}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	if err := a.connectRedis(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	adminIDs, err := cfg.Admin.ParseIDs()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.build(adminIDs)
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	cfg := a.Config.Redis
	if !cfg.Enabled {
		a.locker = lock.NewMemoryLocker()
		a.logger.Info().Msg("redis disabled, using in-memory locks and rate limits")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis at %s: %w", cfg.Addr(), err)
	}

	a.redis = client
	a.locker = lock.NewRedisLocker(client)
	a.logger.Info().Str("addr", cfg.Addr()).Msg("connected to redis")
	return nil
}

func (a *App) limiter() ratelimit.Limiter {
	cfg := a.Config.RateLimit
	if !cfg.Enabled {
		return ratelimit.Unlimited{}
	}

	limits := ratelimit.Config{
		Limit:   cfg.Requests,
		Window:  cfg.Window,
		MaxKeys: cfg.MaxKeys,
	}
	if a.redis != nil {
		if prefix := a.Config.Redis.KeyPrefix; prefix != "" {
			limits.KeyPrefix = prefix + ":ratelimit"
		}
		return ratelimit.NewRedisLimiter(a.redis, limits)
	}
	a.memLimiter = ratelimit.NewMemoryLimiter(limits)
	a.memLimiter.Start(limiterSweepInterval)
	return a.memLimiter
}

func (a *App) checker() subscription.Checker {
	cfg := a.Config.Telegram
	if !cfg.RequireSubscription {
		return subscription.Disabled{}
	}
	telegram := subscription.NewTelegramChecker(subscription.TelegramConfig{
		APIURL:      cfg.APIURL,
		BotToken:    cfg.BotToken,
		Channel:     cfg.Channel,
		MinDuration: cfg.MinSubscription,
		Timeout:     cfg.Timeout,
	}, a.logger)
	if cfg.CacheTTL <= 0 {
		return telegram
	}

	var store cache.Cache
	if a.redis != nil {
		store = rediscache.New(a.redis, a.Config.Redis.KeyPrefix)
	} else {
		a.memCache = memory.NewCache(0)
		store = a.memCache
	}
	return subscription.NewCachedChecker(telegram, store, cfg.CacheTTL, a.logger)
}

func (a *App) build(adminIDs []int64) {
	cfg := a.Config
	repos := a.Store.Repos

	// Interfaces stay nil when the panel is off so that services see
	// an absent panel rather than a nil client.
	var panelClient service.PanelClient
	var servers service.ServerDirectory
	if cfg.Panel.Configured() {
		client := panel.NewClient(panel.Config{
			BaseURL:      cfg.Panel.URL,
			APIKey:       cfg.Panel.APIKey,
			ClientAPIKey: cfg.Panel.ClientAPIKey,
			Timeout:      cfg.Panel.Timeout,
			NestID:       cfg.Panel.NestID,
			EggID:        cfg.Panel.EggID,
			NodeID:       cfg.Panel.NodeID,
		}, a.Metrics, a.logger)
		panelClient = client
		servers = client
	} else {
		a.logger.Warn().Msg("hosting panel not configured, provisioning disabled")
	}

	a.Provisioner = service.NewProvisioningService(
		service.ProvisioningConfig{MaxAttempts: cfg.Provisioning.MaxAttempts},
		repos.Account,
		panelClient,
		crypto.NewCredentialGenerator(cfg.Provisioning.EmailDomain),
		a.Metrics,
		a.logger,
	)

	gate := service.NewEligibilityGate(
		repos.User,
		repos.Account,
		a.checker(),
		cfg.Telegram.MinSubscription,
		a.Metrics,
		a.logger,
	)

	a.Bot = service.NewBotService(a.limiter(), a.locker, gate, a.Provisioner, cfg.Provisioning.LockTTL, a.Metrics, a.logger)
	a.Users = service.NewUserService(repos.User, repos.Account, repos.ActionLog, a.logger)
	a.Admin = service.NewAdminService(adminIDs, repos.User, repos.Account, repos.ActionLog, a.Provisioner, servers,
		a.locker, cfg.Provisioning.LockTTL, a.logger)

	if servers != nil {
		a.Reconciler = service.NewReconciler(repos.Account, repos.ActionLog, servers, a.locker, a.Metrics, a.logger,
			service.ReconcilerConfig{
				Enabled:       cfg.Reconciler.Enabled,
				Interval:      cfg.Reconciler.Interval,
				DeleteOrphans: cfg.Reconciler.DeleteOrphans,
				DryRun:        cfg.Reconciler.DryRun,
				GracePeriod:   cfg.Reconciler.GracePeriod,
			})
	}
}

// Close stops background loops and releases the database, Redis and
// in-memory resources.
func (a *App) Close() {
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	if a.memLimiter != nil {
		a.memLimiter.Stop()
	}
	if memLocker, ok := a.locker.(*lock.MemoryLocker); ok {
		memLocker.Close()
	}
	if a.memCache != nil {
		a.memCache.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close database")
	}
}
