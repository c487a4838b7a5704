// Package repository defines data access interfaces for hostbot.
// These interfaces abstract database operations, allowing for different implementations
// (SQLite, PostgreSQL, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/cloudspb/hostbot/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// GetByTelegramID retrieves a user by chat id.
	// Returns domain.ErrUserNotFound if absent.
	GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)

	// GetByUsername retrieves a user by chat handle (without "@").
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Create inserts the user unless one with the same id exists.
	// Returns true if a row was inserted; an existing user is not an error.
	Create(ctx context.Context, user *domain.User) (bool, error)

	// SetEmail stores the email of record.
	// Returns domain.ErrEmailTaken on a unique constraint violation.
	SetEmail(ctx context.Context, telegramID int64, email string) error

	// IsEmailUnique reports whether no user other than excludeID holds email.
	// An excludeID of 0 excludes nobody.
	IsEmailUnique(ctx context.Context, email string, excludeID int64) (bool, error)

	// TouchSubscriptionCheck records the time of the latest subscription check.
	TouchSubscriptionCheck(ctx context.Context, telegramID int64) error

	// Ban marks the user as banned with a reason. Idempotent.
	Ban(ctx context.Context, telegramID int64, reason string) error

	// Unban clears the ban flag and reason. Idempotent.
	Unban(ctx context.Context, telegramID int64) error

	// List returns all users.
	List(ctx context.Context) ([]*domain.User, error)

	// ListBanned returns banned users.
	ListBanned(ctx context.Context) ([]*domain.User, error)

	// CountCreatedSince counts users created at or after since.
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
}

// =============================================================================
// Hosting Account Repository
// =============================================================================

// AccountRepository defines the interface for hosting account data access.
type AccountRepository interface {
	// ListByUser returns the accounts owned by a user (empty if none).
	ListByUser(ctx context.Context, telegramID int64) ([]*domain.HostingAccount, error)

	// GetByRemoteID retrieves an account by panel identifier.
	// Returns domain.ErrAccountNotFound if absent.
	GetByRemoteID(ctx context.Context, remoteID string) (*domain.HostingAccount, error)

	// CreateWithCredentials atomically records a provisioned account with
	// status active. Fails without writing anything if the user does not
	// exist (domain.ErrUserNotFound) or the remote id is already recorded
	// (domain.ErrAccountAlreadyExists).
	CreateWithCredentials(ctx context.Context, telegramID int64, ref domain.AccountRef, creds domain.Credentials) (*domain.HostingAccount, error)

	// Delete removes the record of a remote account.
	// Returns domain.ErrAccountNotFound if absent.
	Delete(ctx context.Context, remoteID string) error

	// UpdateStatus changes the status of an account.
	UpdateStatus(ctx context.Context, remoteID string, status domain.AccountStatus) error

	// List returns all accounts.
	List(ctx context.Context) ([]*domain.HostingAccount, error)

	// ListByStatus returns accounts with the given status.
	ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.HostingAccount, error)

	// CountCreatedSince counts accounts created at or after since.
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)
}

// =============================================================================
// Action Log Repository
// =============================================================================

// ActionLogRepository defines the interface for the append-only admin audit log.
type ActionLogRepository interface {
	// Append records an entry and sets its ID.
	Append(ctx context.Context, entry *domain.AuditLogEntry) error

	// ListRecent returns the newest entries first.
	ListRecent(ctx context.Context, limit int) ([]*domain.AuditLogEntry, error)
}
