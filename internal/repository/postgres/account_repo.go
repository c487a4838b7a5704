package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// accountRepository implements repository.AccountRepository.
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL hosting account repository.
func NewAccountRepository(db *DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, user_id, remote_id, panel_server_id, panel_user_id, name, status,
	COALESCE(username, ''), COALESCE(password, ''), COALESCE(email, ''), created_at`

func scanAccount(row pgx.Row) (*domain.HostingAccount, error) {
	account := &domain.HostingAccount{}
	var status string
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.RemoteID,
		&account.PanelServerID,
		&account.PanelUserID,
		&account.Name,
		&status,
		&account.Username,
		&account.Password,
		&account.Email,
		&account.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Status = domain.AccountStatus(status)
	return account, nil
}

// ListByUser returns the accounts owned by a user.
func (r *accountRepository) ListByUser(ctx context.Context, telegramID int64) ([]*domain.HostingAccount, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM servers WHERE user_id = $1 ORDER BY created_at, id`, telegramID)
}

// GetByRemoteID retrieves an account by panel identifier.
func (r *accountRepository) GetByRemoteID(ctx context.Context, remoteID string) (*domain.HostingAccount, error) {
	account, err := scanAccount(r.db.Pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM servers WHERE remote_id = $1`, remoteID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by remote id: %w", err)
	}
	return account, nil
}

// CreateWithCredentials records a provisioned account in a single transaction.
func (r *accountRepository) CreateWithCredentials(ctx context.Context, telegramID int64, ref domain.AccountRef, creds domain.Credentials) (*domain.HostingAccount, error) {
	account := &domain.HostingAccount{
		UserID:        telegramID,
		RemoteID:      ref.RemoteID,
		PanelServerID: ref.PanelServerID,
		PanelUserID:   ref.PanelUserID,
		Name:          ref.Name,
		Status:        domain.AccountStatusActive,
		Username:      creds.Username,
		Password:      creds.Password,
		Email:         creds.Email,
		CreatedAt:     time.Now().UTC(),
	}

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE telegram_id = $1)`, telegramID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check owner: %w", err)
		}
		if !exists {
			return domain.ErrUserNotFound
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO servers (user_id, remote_id, panel_server_id, panel_user_id, name, status,
				username, password, email, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`,
			account.UserID,
			account.RemoteID,
			account.PanelServerID,
			account.PanelUserID,
			account.Name,
			string(account.Status),
			account.Username,
			account.Password,
			account.Email,
			account.CreatedAt,
		).Scan(&account.ID)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return fmt.Errorf("%w: %s", domain.ErrAccountAlreadyExists, account.RemoteID)
			case isForeignKeyViolation(err):
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// Delete removes the record of a remote account.
func (r *accountRepository) Delete(ctx context.Context, remoteID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM servers WHERE remote_id = $1`, remoteID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpdateStatus changes the status of an account.
func (r *accountRepository) UpdateStatus(ctx context.Context, remoteID string, status domain.AccountStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAccountStatus, status)
	}

	tag, err := r.db.Pool.Exec(ctx, `UPDATE servers SET status = $1 WHERE remote_id = $2`, string(status), remoteID)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// List returns all accounts, newest first.
func (r *accountRepository) List(ctx context.Context) ([]*domain.HostingAccount, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM servers ORDER BY created_at DESC, id DESC`)
}

// ListByStatus returns accounts with the given status.
func (r *accountRepository) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.HostingAccount, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM servers WHERE status = $1 ORDER BY created_at, id`, string(status))
}

// CountCreatedSince counts accounts created at or after since.
func (r *accountRepository) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM servers WHERE created_at >= $1`, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}

func (r *accountRepository) list(ctx context.Context, query string, args ...any) ([]*domain.HostingAccount, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*domain.HostingAccount, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}
