package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// userRepository implements repository.UserRepository.
type userRepository struct {
	db *DB
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(db *DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `telegram_id, COALESCE(username, ''), first_name, last_name, email, is_banned,
	ban_reason, subscription_checked_at, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.TelegramID,
		&user.Username,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.IsBanned,
		&user.BanReason,
		&user.SubscriptionCheckedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetByTelegramID retrieves a user by chat id.
func (r *userRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by telegram id: %w", err)
	}

	return user, nil
}

// GetByUsername retrieves a user by chat handle, case-insensitively.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1) LIMIT 1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, username))
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
		VALUES ($1, NULLIF($2, ''), $3, $4, FALSE, $5, $6)
		ON CONFLICT (telegram_id) DO NOTHING
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		user.TelegramID,
		user.Username,
		user.FirstName,
		user.LastName,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetEmail stores the email of record.
func (r *userRepository) SetEmail(ctx context.Context, telegramID int64, email string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET email = $1, updated_at = $2 WHERE telegram_id = $3`,
		email, time.Now().UTC(), telegramID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrEmailTaken, email)
		}
		return fmt.Errorf("failed to set email: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// IsEmailUnique reports whether no other user holds the email.
func (r *userRepository) IsEmailUnique(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND telegram_id <> $2)`,
		email, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check email uniqueness: %w", err)
	}

	return !taken, nil
}

// TouchSubscriptionCheck records the time of the latest subscription check.
func (r *userRepository) TouchSubscriptionCheck(ctx context.Context, telegramID int64) error {
	now := time.Now().UTC()
	return r.update(ctx, "touch subscription check",
		`UPDATE users SET subscription_checked_at = $1, updated_at = $1 WHERE telegram_id = $2`,
		now, telegramID)
}

// Ban marks the user as banned.
func (r *userRepository) Ban(ctx context.Context, telegramID int64, reason string) error {
	return r.update(ctx, "ban user",
		`UPDATE users SET is_banned = TRUE, ban_reason = $1, updated_at = $2 WHERE telegram_id = $3`,
		reason, time.Now().UTC(), telegramID)
}

// Unban clears the ban flag and reason.
func (r *userRepository) Unban(ctx context.Context, telegramID int64) error {
	return r.update(ctx, "unban user",
		`UPDATE users SET is_banned = FALSE, ban_reason = NULL, updated_at = $1 WHERE telegram_id = $2`,
		time.Now().UTC(), telegramID)
}

// List returns all users ordered by creation time.
func (r *userRepository) List(ctx context.Context) ([]*domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, telegram_id`)
}

// ListBanned returns banned users.
func (r *userRepository) ListBanned(ctx context.Context) ([]*domain.User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE is_banned ORDER BY updated_at DESC`)
}

// CountCreatedSince counts users created at or after since.
func (r *userRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE created_at >= $1`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (r *userRepository) update(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *userRepository) list(ctx context.Context, query string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
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
