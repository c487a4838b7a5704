// Package service provides business logic services for hostbot.
package service

import "errors"

// Common service errors.
var (
	// User errors
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTakenBanned = errors.New("email belongs to another user; user banned")
	ErrRateLimited      = errors.New("too many requests")
	ErrProvisionBusy    = errors.New("provisioning already in progress")

	// Admin errors
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidTarget = errors.New("invalid target: expected user id or @username")
	ErrPanelDisabled = errors.New("hosting panel is not configured")
	ErrInvalidSignal = errors.New("invalid power signal: expected start or stop")

	// General errors
	ErrInternalError = errors.New("internal server error")
)

// Provisioning failure sentinels, one per ProvisionCode.
var (
	ErrEmailExists         = errors.New("email already registered in panel")
	ErrEmailCheckFailed    = errors.New("panel email check failed")
	ErrUserExistsExhausted = errors.New("could not generate unique credentials")
	ErrServerCreateFailed  = errors.New("server creation failed")
	ErrServerAttrsMissing  = errors.New("created server has no identifier")
	ErrServerSaveFailed    = errors.New("failed to persist created server")
	ErrPanelUnavailable    = errors.New("hosting panel unavailable")
)
