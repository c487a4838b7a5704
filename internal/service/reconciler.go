package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/lock"
	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/panel"
	"github.com/cloudspb/hostbot/internal/repository"
)

// Reconciler compares panel servers with local records. Servers created on
// the panel but never saved locally are orphans; local active accounts
// missing from the panel are marked as errored.
type Reconciler struct {
	accounts  repository.AccountRepository
	actionLog repository.ActionLogRepository
	servers   ServerDirectory
	locker    lock.Locker
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	config    ReconcilerConfig
	now       func() time.Time

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// ReconcilerConfig contains reconciliation configuration.
type ReconcilerConfig struct {
	// Enabled determines if reconciliation runs automatically.
	Enabled bool

	// Interval is how often to reconcile.
	Interval time.Duration

	// DeleteOrphans removes orphan servers from the panel.
	DeleteOrphans bool

	// DryRun logs what would change without changing anything.
	DryRun bool

	// ServerPrefix limits orphan detection to servers created by the bot.
	ServerPrefix string

	// GracePeriod is the minimum age of an orphan candidate. Younger
	// servers, and servers of unknown age, may belong to a provisioning run
	// that has not saved its record yet.
	GracePeriod time.Duration
}

// DefaultOrphanGracePeriod is used when ReconcilerConfig.GracePeriod is zero.
const DefaultOrphanGracePeriod = 30 * time.Minute

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Enabled:       true,
		Interval:      1 * time.Hour,
		DeleteOrphans: false,
		DryRun:        true,
		ServerPrefix:  panel.ServerNamePrefix,
		GracePeriod:   DefaultOrphanGracePeriod,
	}
}

// NewReconciler creates a new reconciler.
func NewReconciler(
	accounts repository.AccountRepository,
	actionLog repository.ActionLogRepository,
	servers ServerDirectory,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config ReconcilerConfig,
) *Reconciler {
	if config.ServerPrefix == "" {
		config.ServerPrefix = panel.ServerNamePrefix
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultOrphanGracePeriod
	}
	return &Reconciler{
		accounts:  accounts,
		actionLog: actionLog,
		servers:   servers,
		locker:    locker,
		metrics:   m,
		logger:    logger.With().Str("service", "reconciler").Logger(),
		config:    config,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start begins the reconciliation scheduler. It does nothing when the
// reconciler is not enabled; RunOnce still works for manual runs.
func (r *Reconciler) Start() {
	if !r.config.Enabled {
		r.logger.Info().Msg("Reconciler disabled, not scheduling runs")
		return
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Bool("delete_orphans", r.config.DeleteOrphans).
		Bool("dry_run", r.config.DryRun).
		Msg("Starting reconciler")

	go r.runLoop()
}

// Stop stops the reconciliation scheduler.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	<-r.doneChan

	r.logger.Info().Msg("Reconciler stopped")
}

func (r *Reconciler) runLoop() {
	defer close(r.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopChan:
			return
		}
	}
}

// ReconcileResult contains the result of a reconciliation run.
type ReconcileResult struct {
	// Orphans are panel servers with no local record.
	Orphans []string

	// Recent are unrecorded panel servers still inside the grace period.
	Recent []string

	// OrphansDeleted is the number of orphans removed from the panel.
	OrphansDeleted int

	// Missing are local active accounts absent from the panel.
	Missing []string

	// Skipped is true when another process held the lock.
	Skipped bool

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single reconciliation run.
func (r *Reconciler) RunOnce(ctx context.Context) ReconcileResult {
	start := time.Now()
	result := ReconcileResult{}
	r.run(ctx, &result)
	result.Duration = time.Since(start)
	return result
}

func (r *Reconciler) run(ctx context.Context, result *ReconcileResult) {
	start := time.Now()
	r.logger.Debug().Msg("Starting reconciliation run")

	lockKey := lock.Keys.Reconcile()
	lockTTL := r.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	l := lock.NewLock(r.locker, lockKey)
	acquired, err := l.Acquire(ctx, lockTTL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to acquire reconcile lock")
		result.Errors++
		r.record(result)
		return
	}
	if !acquired {
		r.logger.Debug().Msg("Reconcile lock held by another process, skipping run")
		result.Skipped = true
		return
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error().Err(err).Msg("Failed to release reconcile lock")
		}
	}()

	remote, err := r.servers.ListServers(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list panel servers")
		result.Errors++
		r.record(result)
		return
	}

	local, err := r.accounts.List(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list local accounts")
		result.Errors++
		r.record(result)
		return
	}

	known := make(map[string]struct{}, len(local))
	for _, account := range local {
		known[account.RemoteID] = struct{}{}
	}
	present := make(map[string]struct{}, len(remote))
	for _, server := range remote {
		present[server.Identifier] = struct{}{}
	}

	for _, server := range remote {
		if !strings.HasPrefix(server.Name, r.config.ServerPrefix) {
			continue
		}
		if _, ok := known[server.Identifier]; ok {
			continue
		}
		if !r.oldEnough(server) {
			result.Recent = append(result.Recent, server.Identifier)
			r.logger.Debug().
				Str("remote_id", server.Identifier).
				Time("created_at", server.CreatedAt).
				Msg("Unrecorded server inside grace period, skipping")
			continue
		}
		r.handleOrphan(ctx, server, result)
	}

	for _, account := range local {
		if account.Status != domain.AccountStatusActive {
			continue
		}
		if _, ok := present[account.RemoteID]; ok {
			continue
		}
		r.handleMissing(ctx, account, result)
	}

	r.record(result)

	r.logger.Info().
		Int("orphans", len(result.Orphans)).
		Int("recent", len(result.Recent)).
		Int("orphans_deleted", result.OrphansDeleted).
		Int("missing", len(result.Missing)).
		Int("errors", result.Errors).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation run completed")
}

// oldEnough reports whether server is past the grace period.
func (r *Reconciler) oldEnough(server panel.ServerInfo) bool {
	if server.CreatedAt.IsZero() {
		return false
	}
	return r.now().Sub(server.CreatedAt) >= r.config.GracePeriod
}

func (r *Reconciler) handleOrphan(ctx context.Context, server panel.ServerInfo, result *ReconcileResult) {
	result.Orphans = append(result.Orphans, server.Identifier)

	logger := r.logger.With().
		Str("remote_id", server.Identifier).
		Int64("panel_server_id", server.ID).
		Int64("panel_user_id", server.User).
		Str("name", server.Name).
		Logger()

	if !r.config.DeleteOrphans || r.config.DryRun {
		logger.Warn().Bool("dry_run", r.config.DryRun).Msg("Orphan server found")
		return
	}

	// The record may have been saved after the local listing.
	_, err := r.accounts.GetByRemoteID(ctx, server.Identifier)
	switch {
	case err == nil:
		logger.Info().Msg("Server recorded meanwhile, not deleting")
		result.Orphans = result.Orphans[:len(result.Orphans)-1]
		return
	case !errors.Is(err, domain.ErrAccountNotFound):
		logger.Error().Err(err).Msg("Failed to re-check orphan server")
		result.Errors++
		return
	}

	if err := r.servers.DeleteServer(ctx, server.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to delete orphan server")
		result.Errors++
		return
	}

	result.OrphansDeleted++
	logger.Info().Msg("Deleted orphan server")

	entry := domain.NewAuditLogEntry(domain.SystemAdminID, domain.ActionReconcileOrphan, 0,
		fmt.Sprintf("remote id: %s, panel server id: %d", server.Identifier, server.ID))
	if err := r.actionLog.Append(ctx, entry); err != nil {
		logger.Error().Err(err).Msg("Failed to record orphan deletion")
	}
}

func (r *Reconciler) handleMissing(ctx context.Context, account *domain.HostingAccount, result *ReconcileResult) {
	result.Missing = append(result.Missing, account.RemoteID)

	if r.config.DryRun {
		r.logger.Warn().
			Str("remote_id", account.RemoteID).
			Msg("[DRY RUN] Would mark server missing from panel as error")
		return
	}

	if err := r.accounts.UpdateStatus(ctx, account.RemoteID, domain.AccountStatusError); err != nil {
		r.logger.Error().Err(err).Str("remote_id", account.RemoteID).Msg("Failed to mark server as error")
		result.Errors++
		return
	}

	r.logger.Warn().
		Str("remote_id", account.RemoteID).
		Int64("user_id", account.UserID).
		Msg("Server missing from panel marked as error")
}

func (r *Reconciler) record(result *ReconcileResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordReconcile(len(result.Orphans), len(result.Missing), result.Errors > 0)
}
