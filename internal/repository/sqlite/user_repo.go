package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// userRepository implements repository.UserRepository for SQLite.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `telegram_id, username, first_name, last_name, email, is_banned,
	ban_reason, subscription_checked_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var (
		username, email, banReason, checkedAt sql.NullString
		isBanned                              int
		createdAt, updatedAt                  string
	)

	err := row.Scan(
		&user.TelegramID,
		&username,
		&user.FirstName,
		&user.LastName,
		&email,
		&isBanned,
		&banReason,
		&checkedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Username = username.String
	user.Email = nullStringPtr(email)
	user.IsBanned = isBanned != 0
	user.BanReason = nullStringPtr(banReason)
	user.SubscriptionCheckedAt = parseNullTime(checkedAt)
	user.CreatedAt = parseTime(createdAt)
	user.UpdatedAt = parseTime(updatedAt)

	return user, nil
}

// GetByTelegramID retrieves a user by chat id.
func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = ?`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by telegram id: %w", err)
	}

	return user, nil
}

// GetByUsername retrieves a user by chat handle.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ? COLLATE NOCASE LIMIT 1`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}

	return user, nil
}

// Create inserts the user if it does not exist yet.
func (r *userRepository) Create(ctx context.Context, user *domain.User) (bool, error) {
	query := `
		INSERT INTO users (telegram_id, username, first_name, last_name, is_banned, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (telegram_id) DO NOTHING
	`

	var username interface{}
	if user.Username != "" {
		username = user.Username
	}

	result, err := r.db.ExecContext(ctx, query,
		user.TelegramID,
		username,
		user.FirstName,
		user.LastName,
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// SetEmail stores the email of record.
func (r *userRepository) SetEmail(ctx context.Context, telegramID int64, email string) error {
	query := `UPDATE users SET email = ?, updated_at = ? WHERE telegram_id = ?`

	result, err := r.db.ExecContext(ctx, query, email, formatTime(time.Now()), telegramID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrEmailTaken, email)
		}
		return fmt.Errorf("failed to set email: %w", err)
	}

	return requireAffected(result, domain.ErrUserNotFound)
}

// IsEmailUnique reports whether no other user holds the email.
func (r *userRepository) IsEmailUnique(ctx context.Context, email string, excludeID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM users WHERE email = ? AND telegram_id != ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, query, email, excludeID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check email uniqueness: %w", err)
	}

	return count == 0, nil
}

// TouchSubscriptionCheck records the time of the latest subscription check.
func (r *userRepository) TouchSubscriptionCheck(ctx context.Context, telegramID int64) error {
	now := formatTime(time.Now())
	query := `UPDATE users SET subscription_checked_at = ?, updated_at = ? WHERE telegram_id = ?`

	result, err := r.db.ExecContext(ctx, query, now, now, telegramID)
	if err != nil {
		return fmt.Errorf("failed to touch subscription check: %w", err)
	}

	return requireAffected(result, domain.ErrUserNotFound)
}

// Ban marks the user as banned.
func (r *userRepository) Ban(ctx context.Context, telegramID int64, reason string) error {
	query := `UPDATE users SET is_banned = 1, ban_reason = ?, updated_at = ? WHERE telegram_id = ?`

	result, err := r.db.ExecContext(ctx, query, reason, formatTime(time.Now()), telegramID)
	if err != nil {
		return fmt.Errorf("failed to ban user: %w", err)
	}

	return requireAffected(result, domain.ErrUserNotFound)
}

// Unban clears the ban flag and reason.
func (r *userRepository) Unban(ctx context.Context, telegramID int64) error {
	query := `UPDATE users SET is_banned = 0, ban_reason = NULL, updated_at = ? WHERE telegram_id = ?`

	result, err := r.db.ExecContext(ctx, query, formatTime(time.Now()), telegramID)
	if err != nil {
		return fmt.Errorf("failed to unban user: %w", err)
	}

	return requireAffected(result, domain.ErrUserNotFound)
}

// List returns all users ordered by creation time.
func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, telegram_id`)
}

// ListBanned returns banned users.
func (r *userRepository) ListBanned(ctx context.Context) ([]*domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE is_banned = ? ORDER BY updated_at DESC`, boolToInt(true))
}

// CountCreatedSince counts users created at or after since.
func (r *userRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= ?`, formatTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (r *userRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*domain.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// requireAffected maps a zero-row update to notFound.
func requireAffected(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
