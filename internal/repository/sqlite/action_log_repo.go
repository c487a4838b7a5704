package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

// actionLogRepository implements repository.ActionLogRepository for SQLite.
type actionLogRepository struct {
	db *DB
}

// NewActionLogRepository creates a new SQLite audit log repository.
func NewActionLogRepository(db *DB) repository.ActionLogRepository {
	return &actionLogRepository{db: db}
}

// Append records an entry.
func (r *actionLogRepository) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	query := `
		INSERT INTO action_logs (admin_id, action, target_user_id, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	var target, details interface{}
	if entry.TargetUserID != nil {
		target = *entry.TargetUserID
	}
	if entry.Details != nil {
		details = *entry.Details
	}

	result, err := r.db.ExecContext(ctx, query,
		entry.AdminID,
		string(entry.Action),
		target,
		details,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	entry.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return nil
}

// ListRecent returns the newest entries first.
func (r *actionLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = repository.DefaultActionLogLimit
	}

	query := `
		SELECT id, admin_id, action, target_user_id, details, created_at
		FROM action_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list action logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditLogEntry, 0, limit)
	for rows.Next() {
		entry := &domain.AuditLogEntry{}
		var (
			action    string
			target    sql.NullInt64
			details   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.AdminID, &action, &target, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan action log: %w", err)
		}

		entry.Action = domain.ActionKind(action)
		if target.Valid {
			id := target.Int64
			entry.TargetUserID = &id
		}
		entry.Details = nullStringPtr(details)
		entry.CreatedAt = parseTime(createdAt)

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action logs: %w", err)
	}

	return entries, nil
}
