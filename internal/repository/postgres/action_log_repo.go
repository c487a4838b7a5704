package postgres

import (
	"context"
	"fmt"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// actionLogRepository implements repository.ActionLogRepository.
type actionLogRepository struct {
	db *DB
}

// NewActionLogRepository creates a new PostgreSQL audit log repository.
func NewActionLogRepository(db *DB) repository.ActionLogRepository {
	return &actionLogRepository{db: db}
}

// Append records an entry.
func (r *actionLogRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO action_logs (admin_id, action, target_user_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		entry.AdminID,
		string(entry.Action),
		entry.TargetUserID,
		entry.Details,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	return nil
}

// ListRecent returns the newest entries first.
func (r *actionLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = repository.DefaultActionLogLimit
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, admin_id, action, target_user_id, details, created_at
		FROM action_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditLogEntry, 0, limit)
	for rows.Next() {
		entry := &domain.AuditLogEntry{}
		var action string
		if err := rows.Scan(&entry.ID, &entry.AdminID, &action, &entry.TargetUserID, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}
		entry.Action = domain.ActionKind(action)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return entries, nil
}
