package domain

import (
	"time"
)

// AccountStatus is the lifecycle state of a hosting account record.
type AccountStatus string

const (
	// AccountStatusCreating marks a record whose remote server is still being set up.
	AccountStatusCreating AccountStatus = "creating"

	// AccountStatusActive marks a record backed by an existing remote server.
	AccountStatusActive AccountStatus = "active"

	// AccountStatusError marks a record whose remote server is missing or broken.
	AccountStatusError AccountStatus = "error"
)

// IsValid returns true if the status is one of the known values.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusCreating, AccountStatusActive, AccountStatusError:
		return true
	}
	return false
}

// HostingAccount is the local record of a provisioned panel identity and server.
// At most one exists per user under normal operation.
type HostingAccount struct {
	// ID is the local surrogate key.
	ID int64 `json:"id"`

	// UserID is the TelegramID of the owning user.
	UserID int64 `json:"user_id"`

	// RemoteID is the panel's server identifier (unique).
	RemoteID string `json:"remote_id"`

	// PanelServerID is the panel's numeric server id, used by the application API.
	PanelServerID int64 `json:"panel_server_id"`

	// PanelUserID is the panel's numeric id of the account owning the server.
	PanelUserID int64 `json:"panel_user_id"`

	// Name is the server display name on the panel.
	Name string `json:"name"`

	Status AccountStatus `json:"status"`

	// Generated panel credentials. The password is stored in clear text.
	Username string `json:"username"`
	Password string `json:"-"`
	Email    string `json:"email"`

	CreatedAt time.Time `json:"created_at"`
}

// AccountRef identifies a freshly created remote server and its owner on the panel.
type AccountRef struct {
	RemoteID      string
	PanelServerID int64
	PanelUserID   int64
	Name          string
}

// Credentials is the generated login for a panel account.
// It is transient and only persisted as part of a HostingAccount.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	UserID   int64  `json:"user_id"`
}
