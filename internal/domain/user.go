// Package domain contains the core business entities for hostbot.
// These are pure Go structs with no external dependencies, representing
// bot users, their hosting accounts and the admin audit trail.
package domain

import (
	"strconv"
	"time"
)

// User represents a chat user known to the bot.
// Users are created on first interaction and are never deleted.
type User struct {
	// TelegramID is the stable chat identifier and the primary key.
	TelegramID int64 `json:"telegram_id"`

	// Username is the chat handle without the leading "@". May be empty.
	Username string `json:"username,omitempty"`

	// FirstName and LastName are the display name parts reported by the chat.
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`

	// Email is the address of record used for the hosting panel.
	// Unique across all users when set.
	Email *string `json:"email,omitempty"`

	// IsBanned blocks the user from provisioning.
	IsBanned bool `json:"is_banned"`

	// BanReason is the free-text reason recorded with the ban.
	BanReason *string `json:"ban_reason,omitempty"`

	// SubscriptionCheckedAt is the last time the channel subscription was checked.
	SubscriptionCheckedAt *time.Time `json:"subscription_checked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a new User with default values.
func NewUser(telegramID int64, username, firstName, lastName string) *User {
	now := time.Now().UTC()
	return &User{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// DisplayName returns the name used to derive panel usernames.
func (u *User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// HasEmail reports whether an email of record is set.
func (u *User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}

// EmailOrEmpty returns the email of record or "".
func (u *User) EmailOrEmpty() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// BanReasonOrEmpty returns the ban reason or "".
func (u *User) BanReasonOrEmpty() string {
	if u.BanReason == nil {
		return ""
	}
	return *u.BanReason
}

// Handle returns "@username" when a username is known, otherwise the numeric id.
func (u *User) Handle() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.TelegramID, 10)
}
