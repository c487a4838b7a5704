// Package subscription checks whether a chat user follows the required channel.
package subscription

import (
	"context"
	"time"
)

// Member statuses reported by the chat platform.
const (
	StatusCreator       = "creator"
	StatusAdministrator = "administrator"
	StatusMember        = "member"
	StatusRestricted    = "restricted"
	StatusLeft          = "left"
	StatusKicked        = "kicked"

	// StatusDisabled is reported when subscription checks are turned off.
	StatusDisabled = "disabled"
)

// DefaultMinDuration is the minimum subscription age required to provision.
const DefaultMinDuration = 10 * time.Minute

// Status is the result of a subscription check.
type Status struct {
	IsSubscribed         bool
	MeetsTimeRequirement bool

	// Duration is how long the user has been subscribed, if known.
	Duration *time.Duration

	// Status is the raw member status.
	Status string
}

// Remaining returns how long until the time requirement is met, or 0.
func (s Status) Remaining(min time.Duration) time.Duration {
	if s.Duration == nil || *s.Duration >= min {
		return 0
	}
	return min - *s.Duration
}

// Checker reports a user's subscription status.
type Checker interface {
	Check(ctx context.Context, userID int64) (Status, error)
}

// Disabled treats every user as subscribed.
type Disabled struct{}

// Check implements Checker.
func (Disabled) Check(context.Context, int64) (Status, error) {
	return Status{IsSubscribed: true, MeetsTimeRequirement: true, Status: StatusDisabled}, nil
}

// evaluate turns a member status and optional join time into a Status.
// A missing join time satisfies the time requirement.
func evaluate(memberStatus string, joinedAt *time.Time, now time.Time, min time.Duration) Status {
	switch memberStatus {
	case StatusMember, StatusAdministrator, StatusCreator:
	default:
		return Status{Status: memberStatus}
	}

	if joinedAt == nil {
		return Status{IsSubscribed: true, MeetsTimeRequirement: true, Status: memberStatus}
	}

	d := now.Sub(*joinedAt)
	return Status{
		IsSubscribed:         true,
		MeetsTimeRequirement: d >= min,
		Duration:             &d,
		Status:               memberStatus,
	}
}
