package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/repository"
	"github.com/cloudspb/hostbot/internal/subscription"
)

// GateReason is why a user may not provision.
type GateReason string

const (
	ReasonBanned                GateReason = "BANNED"
	ReasonNotSubscribed         GateReason = "NOT_SUBSCRIBED"
	ReasonSubscriptionTooRecent GateReason = "SUBSCRIPTION_TOO_RECENT"
	ReasonAccountExists         GateReason = "ACCOUNT_EXISTS"
	ReasonEmailMissing          GateReason = "EMAIL_MISSING"
	ReasonUserUnknown           GateReason = "USER_UNKNOWN"
)

// GateError rejects a provisioning request before any remote call.
type GateError struct {
	Reason GateReason

	// BanReason is set for ReasonBanned.
	BanReason string

	// Remaining is set for ReasonSubscriptionTooRecent.
	Remaining time.Duration
}

// Error implements the error interface.
func (e *GateError) Error() string {
	switch e.Reason {
	case ReasonBanned:
		if e.BanReason != "" {
			return fmt.Sprintf("%s: %s", e.Reason, e.BanReason)
		}
	case ReasonSubscriptionTooRecent:
		return fmt.Sprintf("%s: %s remaining", e.Reason, e.Remaining.Round(time.Second))
	}
	return string(e.Reason)
}

// IsGateError reports whether err is a *GateError and returns it.
func IsGateError(err error) (*GateError, bool) {
	var gerr *GateError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// Eligibility is the orchestrator input produced by a passing gate.
type Eligibility struct {
	UserID      int64
	DisplayName string
	StoredEmail string
}

// Request builds a ProvisionRequest for the eligible user.
func (e *Eligibility) Request(progress func(ProgressEvent)) ProvisionRequest {
	return ProvisionRequest{
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		StoredEmail: e.StoredEmail,
		Progress:    progress,
	}
}

// EligibilityGate decides whether a user may provision a server.
type EligibilityGate struct {
	users    repository.UserRepository
	accounts repository.AccountRepository
	checker  subscription.Checker
	minAge   time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEligibilityGate creates a new EligibilityGate.
// A nil checker disables the subscription requirement.
func NewEligibilityGate(
	users repository.UserRepository,
	accounts repository.AccountRepository,
	checker subscription.Checker,
	minAge time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *EligibilityGate {
	if checker == nil {
		checker = subscription.Disabled{}
	}
	if minAge <= 0 {
		minAge = subscription.DefaultMinDuration
	}
	return &EligibilityGate{
		users:    users,
		accounts: accounts,
		checker:  checker,
		minAge:   minAge,
		metrics:  m,
		logger:   logger.With().Str("service", "eligibility").Logger(),
	}
}

// Check evaluates every precondition in order: known user, not banned,
// subscribed long enough, no existing account, email on record.
func (g *EligibilityGate) Check(ctx context.Context, telegramID int64) (*Eligibility, error) {
	user, err := g.users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, g.reject(telegramID, &GateError{Reason: ReasonUserUnknown})
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if user.IsBanned {
		return nil, g.reject(telegramID, &GateError{Reason: ReasonBanned, BanReason: user.BanReasonOrEmpty()})
	}

	status, err := g.checker.Check(ctx, telegramID)
	if err != nil {
		g.logger.Warn().Err(err).Int64("user_id", telegramID).Msg("subscription check failed")
		status = subscription.Status{}
	}
	if err := g.users.TouchSubscriptionCheck(ctx, telegramID); err != nil {
		g.logger.Warn().Err(err).Int64("user_id", telegramID).Msg("failed to record subscription check")
	}

	if !status.IsSubscribed {
		return nil, g.reject(telegramID, &GateError{Reason: ReasonNotSubscribed})
	}
	if !status.MeetsTimeRequirement {
		return nil, g.reject(telegramID, &GateError{
			Reason:    ReasonSubscriptionTooRecent,
			Remaining: status.Remaining(g.minAge),
		})
	}

	accounts, err := g.accounts.ListByUser(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if len(accounts) > 0 {
		return nil, g.reject(telegramID, &GateError{Reason: ReasonAccountExists})
	}

	if !user.HasEmail() {
		return nil, g.reject(telegramID, &GateError{Reason: ReasonEmailMissing})
	}

	return &Eligibility{
		UserID:      user.TelegramID,
		DisplayName: user.DisplayName(),
		StoredEmail: user.EmailOrEmpty(),
	}, nil
}

func (g *EligibilityGate) reject(telegramID int64, gerr *GateError) error {
	g.logger.Info().
		Int64("user_id", telegramID).
		Str("reason", string(gerr.Reason)).
		Msg("provisioning request rejected")
	if g.metrics != nil {
		g.metrics.GateRejections.WithLabelValues(string(gerr.Reason)).Inc()
	}
	return gerr
}
