package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/lock"
	"github.com/cloudspb/hostbot/internal/panel"
	"github.com/cloudspb/hostbot/internal/repository"
)

// ServerDirectory reads, controls and removes servers on the hosting panel.
type ServerDirectory interface {
	GetServerInfo(ctx context.Context, panelServerID int64) (*panel.ServerInfo, error)
	ListServers(ctx context.Context) ([]panel.ServerInfo, error)
	DeleteServer(ctx context.Context, panelServerID int64) error
	StartServer(ctx context.Context, identifier string) error
	StopServer(ctx context.Context, identifier string) error
}

// Power signals accepted by AdminService.Power.
const (
	SignalStart = "start"
	SignalStop  = "stop"
)

// AdminService implements administrator commands.
type AdminService struct {
	admins      map[int64]struct{}
	users       repository.UserRepository
	accounts    repository.AccountRepository
	actionLog   repository.ActionLogRepository
	provisioner *ProvisioningService
	guard       provisionGuard
	servers     ServerDirectory
	now         func() time.Time
	logger      zerolog.Logger
}

// NewAdminService creates a new AdminService.
// servers may be nil when the panel is not configured. locker must be the
// one the BotService uses so give-server and user requests exclude each other.
func NewAdminService(
	adminIDs []int64,
	users repository.UserRepository,
	accounts repository.AccountRepository,
	actionLog repository.ActionLogRepository,
	provisioner *ProvisioningService,
	servers ServerDirectory,
	locker lock.Locker,
	lockTTL time.Duration,
	logger zerolog.Logger,
) *AdminService {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}
	logger = logger.With().Str("service", "admin").Logger()
	return &AdminService{
		admins:      admins,
		users:       users,
		accounts:    accounts,
		actionLog:   actionLog,
		provisioner: provisioner,
		guard:       newProvisionGuard(locker, lockTTL, logger),
		servers:     servers,
		now:         time.Now,
		logger:      logger,
	}
}

// IsAdmin reports whether id is on the admin allow-list.
func (s *AdminService) IsAdmin(id int64) bool {
	_, ok := s.admins[id]
	return ok
}

func (s *AdminService) authorize(adminID int64) error {
	if !s.IsAdmin(adminID) {
		s.logger.Warn().Int64("admin_id", adminID).Msg("admin command denied")
		return ErrAccessDenied
	}
	return nil
}

// ResolveTarget finds a user by numeric id or "@username".
func (s *AdminService) ResolveTarget(ctx context.Context, target string) (*domain.User, error) {
	target = strings.TrimSpace(target)

	var (
		user *domain.User
		err  error
	)
	if name, ok := strings.CutPrefix(target, "@"); ok {
		if name == "" {
			return nil, ErrInvalidTarget
		}
		user, err = s.users.GetByUsername(ctx, name)
	} else {
		id, perr := strconv.ParseInt(target, 10, 64)
		if perr != nil {
			return nil, ErrInvalidTarget
		}
		user, err = s.users.GetByTelegramID(ctx, id)
	}

	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.NewDomainError(domain.ErrUserNotFound, "no such user", target)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

func (s *AdminService) audit(ctx context.Context, adminID int64, action domain.ActionKind, targetUserID int64, details string) {
	entry := domain.NewAuditLogEntry(adminID, action, targetUserID, details)
	if err := s.actionLog.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", string(action)).Msg("failed to record admin action")
	}
}

// Ban bans the target user.
func (s *AdminService) Ban(ctx context.Context, adminID int64, target, reason string) (*domain.User, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	user, err := s.ResolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "banned by administrator"
	}
	if err := s.users.Ban(ctx, user.TelegramID, reason); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.audit(ctx, adminID, domain.ActionBanUser, user.TelegramID, reason)
	s.logger.Info().
		Int64("admin_id", adminID).
		Int64("user_id", user.TelegramID).
		Msg("user banned")

	user.IsBanned = true
	user.BanReason = &reason
	return user, nil
}

// Unban lifts the target user's ban.
func (s *AdminService) Unban(ctx context.Context, adminID int64, target string) (*domain.User, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	user, err := s.ResolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	if err := s.users.Unban(ctx, user.TelegramID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.audit(ctx, adminID, domain.ActionUnbanUser, user.TelegramID, "")
	s.logger.Info().
		Int64("admin_id", adminID).
		Int64("user_id", user.TelegramID).
		Msg("user unbanned")

	user.IsBanned = false
	user.BanReason = nil
	return user, nil
}

// GiveServer provisions a server for the target user without the
// subscription check. Users that already have an account are refused, and
// a user's own request in flight makes it fail with ErrProvisionBusy.
func (s *AdminService) GiveServer(ctx context.Context, adminID int64, target string) (*ProvisionResult, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	user, err := s.ResolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	result, err := s.guard.run(ctx, user.TelegramID, func(ctx context.Context) (*ProvisionResult, error) {
		existing, err := s.accounts.ListByUser(ctx, user.TelegramID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		if len(existing) > 0 {
			return nil, domain.NewDomainError(domain.ErrAccountAlreadyExists, "user already has a server", user.Handle())
		}

		return s.provisioner.Provision(ctx, ProvisionRequest{
			UserID:      user.TelegramID,
			DisplayName: user.DisplayName(),
			StoredEmail: user.EmailOrEmpty(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, adminID, domain.ActionGiveServer, user.TelegramID,
		fmt.Sprintf("remote id: %s, username: %s", result.RemoteID, result.Credentials.Username))
	s.logger.Info().
		Int64("admin_id", adminID).
		Int64("user_id", user.TelegramID).
		Str("remote_id", result.RemoteID).
		Msg("server given")

	return result, nil
}

// DeleteServer removes a hosting account record. With alsoRemote the panel
// server is deleted first; a server already gone from the panel is not an
// error.
func (s *AdminService) DeleteServer(ctx context.Context, adminID int64, remoteID string, alsoRemote bool) error {
	if err := s.authorize(adminID); err != nil {
		return err
	}

	account, err := s.accounts.GetByRemoteID(ctx, remoteID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.NewDomainError(domain.ErrAccountNotFound, "no such server", remoteID)
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if err := s.deleteAccount(ctx, account, alsoRemote); err != nil {
		return err
	}

	s.audit(ctx, adminID, domain.ActionDeleteServer, account.UserID,
		fmt.Sprintf("remote id: %s, remote deleted: %t", remoteID, alsoRemote))
	return nil
}

// DeleteReport summarizes DeleteUserServers.
type DeleteReport struct {
	User    *domain.User `json:"user"`
	Deleted []string     `json:"deleted"`
	Failed  []string     `json:"failed"`
}

// DeleteUserServers removes every server of the target user.
func (s *AdminService) DeleteUserServers(ctx context.Context, adminID int64, target string, alsoRemote bool) (*DeleteReport, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	user, err := s.ResolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.ListByUser(ctx, user.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if len(accounts) == 0 {
		return nil, domain.NewDomainError(domain.ErrAccountNotFound, "user has no servers", user.Handle())
	}

	report := &DeleteReport{User: user}
	for _, account := range accounts {
		if err := s.deleteAccount(ctx, account, alsoRemote); err != nil {
			report.Failed = append(report.Failed, account.RemoteID)
			continue
		}
		report.Deleted = append(report.Deleted, account.RemoteID)
	}

	if len(report.Deleted) > 0 {
		s.audit(ctx, adminID, domain.ActionDeleteServer, user.TelegramID,
			fmt.Sprintf("deleted: %d, failed: %d", len(report.Deleted), len(report.Failed)))
	}
	return report, nil
}

func (s *AdminService) deleteAccount(ctx context.Context, account *domain.HostingAccount, alsoRemote bool) error {
	logger := s.logger.With().Str("remote_id", account.RemoteID).Logger()

	if alsoRemote {
		if s.servers == nil {
			return ErrPanelDisabled
		}
		err := s.servers.DeleteServer(ctx, account.PanelServerID)
		switch {
		case errors.Is(err, panel.ErrServerNotFound):
			logger.Warn().Msg("server already absent from panel")
		case err != nil:
			logger.Error().Err(err).Msg("failed to delete panel server")
			return fmt.Errorf("delete panel server %s: %w", account.RemoteID, err)
		}
	}

	if err := s.accounts.Delete(ctx, account.RemoteID); err != nil {
		logger.Error().Err(err).Msg("failed to delete server record")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	logger.Info().Bool("remote", alsoRemote).Msg("server deleted")
	return nil
}

// ServerDetails combines the local record of a server with its owner and
// its panel view.
type ServerDetails struct {
	Account *domain.HostingAccount `json:"account"`
	Owner   *domain.User           `json:"owner"`

	// Remote is nil when the panel is not configured or the server is
	// absent there.
	Remote *panel.ServerInfo `json:"remote,omitempty"`
}

// ServerInfo returns details about a server.
func (s *AdminService) ServerInfo(ctx context.Context, adminID int64, remoteID string) (*ServerDetails, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByRemoteID(ctx, remoteID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.NewDomainError(domain.ErrAccountNotFound, "no such server", remoteID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	details := &ServerDetails{Account: account}

	owner, err := s.users.GetByTelegramID(ctx, account.UserID)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	details.Owner = owner

	if s.servers != nil {
		remote, err := s.servers.GetServerInfo(ctx, account.PanelServerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("panel server lookup failed")
		} else {
			details.Remote = remote
		}
	}

	return details, nil
}

// Power starts or stops a server on the panel.
func (s *AdminService) Power(ctx context.Context, adminID int64, remoteID, signal string) error {
	if err := s.authorize(adminID); err != nil {
		return err
	}
	if signal != SignalStart && signal != SignalStop {
		return ErrInvalidSignal
	}
	if s.servers == nil {
		return ErrPanelDisabled
	}

	account, err := s.accounts.GetByRemoteID(ctx, remoteID)
	if err != nil {
		return err
	}

	if signal == SignalStart {
		err = s.servers.StartServer(ctx, account.RemoteID)
	} else {
		err = s.servers.StopServer(ctx, account.RemoteID)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("remote_id", remoteID).Str("signal", signal).Msg("power action failed")
		return fmt.Errorf("%s server %s: %w", signal, remoteID, err)
	}

	s.audit(ctx, adminID, domain.ActionPowerServer, account.UserID, "remote id: "+remoteID+", signal: "+signal)
	return nil
}

// ListServers returns all hosting accounts, newest first.
func (s *AdminService) ListServers(ctx context.Context, adminID int64) ([]*domain.HostingAccount, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return accounts, nil
}

// Statistics summarizes users and servers.
type Statistics struct {
	TotalUsers    int   `json:"total_users"`
	BannedUsers   int   `json:"banned_users"`
	ActiveUsers   int   `json:"active_users"`
	TotalServers  int   `json:"total_servers"`
	ActiveServers int   `json:"active_servers"`
	NewUsersDay   int64 `json:"new_users_24h"`
	NewServersDay int64 `json:"new_servers_24h"`
}

// Statistics returns counters over the whole store.
func (s *AdminService) Statistics(ctx context.Context, adminID int64) (*Statistics, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	banned, err := s.users.ListBanned(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	servers, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	active, err := s.accounts.ListByStatus(ctx, domain.AccountStatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	since := s.now().Add(-24 * time.Hour)
	newUsers, err := s.users.CountCreatedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	newServers, err := s.accounts.CountCreatedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	return &Statistics{
		TotalUsers:    len(users),
		BannedUsers:   len(banned),
		ActiveUsers:   len(users) - len(banned),
		TotalServers:  len(servers),
		ActiveServers: len(active),
		NewUsersDay:   newUsers,
		NewServersDay: newServers,
	}, nil
}

// RecentActions returns the newest audit log entries.
func (s *AdminService) RecentActions(ctx context.Context, adminID int64, limit int) ([]*domain.AuditLogEntry, error) {
	if err := s.authorize(adminID); err != nil {
		return nil, err
	}

	entries, err := s.actionLog.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return entries, nil
}
