package domain

import "time"

// ActionKind names an administrative action recorded in the audit log.
type ActionKind string

const (
	ActionBanUser         ActionKind = "ban_user"
	ActionUnbanUser       ActionKind = "unban_user"
	ActionGiveServer      ActionKind = "give_server"
	ActionDeleteServer    ActionKind = "delete_server"
	ActionReconcileOrphan ActionKind = "reconcile_orphan"
	ActionPowerServer     ActionKind = "power_server"
)

// SystemAdminID is the admin id recorded for actions taken by background jobs.
const SystemAdminID int64 = 0

// AuditLogEntry is an append-only record of an admin action.
type AuditLogEntry struct {
	ID           int64      `json:"id"`
	AdminID      int64      `json:"admin_id"`
	Action       ActionKind `json:"action"`
	TargetUserID *int64     `json:"target_user_id,omitempty"`
	Details      *string    `json:"details,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewAuditLogEntry creates an entry stamped with the current time.
// A zero targetUserID and empty details are stored as NULL.
func NewAuditLogEntry(adminID int64, action ActionKind, targetUserID int64, details string) *AuditLogEntry {
	entry := &AuditLogEntry{
		AdminID:   adminID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
	if targetUserID != 0 {
		entry.TargetUserID = &targetUserID
	}
	if details != "" {
		entry.Details = &details
	}
	return entry
}
