package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/metrics"
	"github.com/cloudspb/hostbot/internal/panel"
	"github.com/cloudspb/hostbot/internal/repository"
)

// DefaultMaxAttempts bounds credential generation per provisioning run.
const DefaultMaxAttempts = 3

// PanelClient is the part of the hosting panel the orchestrator drives.
type PanelClient interface {
	AccountExists(ctx context.Context, email, username string) (bool, error)
	CreateServerWithCredentials(ctx context.Context, creds domain.Credentials) (*panel.ServerInfo, error)
}

// CredentialSource produces fresh credentials for a user.
type CredentialSource interface {
	Generate(userID int64, displayName string) domain.Credentials
}

// ProvisionCode identifies why a provisioning run failed.
type ProvisionCode string

const (
	CodeEmailExists         ProvisionCode = "EMAIL_EXISTS"
	CodeEmailCheckFailed    ProvisionCode = "PT_EMAIL_CHECK"
	CodeUserExistsExhausted ProvisionCode = "USER_EXISTS_EXHAUSTED"
	CodeServerCreateFailed  ProvisionCode = "SERVER_CREATE_FAILED"
	CodeServerAttrsMissing  ProvisionCode = "SERVER_ATTRS_MISSING"
	CodeServerSaveFailed    ProvisionCode = "DB_SERVER_SAVE"
	CodePanelUnavailable    ProvisionCode = "PT_API_UNAVAILABLE"
)

var codeSentinels = map[ProvisionCode]error{
	CodeEmailExists:         ErrEmailExists,
	CodeEmailCheckFailed:    ErrEmailCheckFailed,
	CodeUserExistsExhausted: ErrUserExistsExhausted,
	CodeServerCreateFailed:  ErrServerCreateFailed,
	CodeServerAttrsMissing:  ErrServerAttrsMissing,
	CodeServerSaveFailed:    ErrServerSaveFailed,
	CodePanelUnavailable:    ErrPanelUnavailable,
}

// ProvisionError is the terminal failure of a provisioning run.
type ProvisionError struct {
	Code    ProvisionCode
	Message string

	// Detail carries the underlying cause, when one exists.
	Detail string

	// Attempts is the number of credential attempts made.
	Attempts int
}

// Error implements the error interface.
func (e *ProvisionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the sentinel error for the code.
func (e *ProvisionError) Unwrap() error {
	return codeSentinels[e.Code]
}

// ProvisionState is a step of the provisioning state machine.
type ProvisionState string

const (
	StateEligible           ProvisionState = "eligible"
	StateGenerating         ProvisionState = "generating"
	StateCheckingUniqueness ProvisionState = "checking_uniqueness"
	StateCreatingRemote     ProvisionState = "creating_remote"
	StatePersisting         ProvisionState = "persisting"
	StateDone               ProvisionState = "done"
	StateFailed             ProvisionState = "failed"
)

// ProgressEvent reports a state transition to the caller.
type ProgressEvent struct {
	State       ProvisionState
	Attempt     int
	MaxAttempts int
	Message     string
}

// ProvisionRequest is the input of a provisioning run.
type ProvisionRequest struct {
	UserID      int64
	DisplayName string

	// StoredEmail is the user's own email of record; empty skips the
	// panel-side email check.
	StoredEmail string

	// Progress, if set, receives every state transition.
	Progress func(ProgressEvent)
}

// ProvisionResult is a successful provisioning run.
// It is the only place the plaintext password leaves the service.
type ProvisionResult struct {
	RemoteID      string
	PanelServerID int64
	Name          string
	Credentials   domain.Credentials
	Account       *domain.HostingAccount
	Attempts      int
}

// ProvisioningConfig contains orchestrator settings.
type ProvisioningConfig struct {
	MaxAttempts int
}

// ProvisioningService creates a hosting account on the panel and records it
// locally. It has no timeout of its own; each remote call inherits ctx.
type ProvisioningService struct {
	config   ProvisioningConfig
	accounts repository.AccountRepository
	panel    PanelClient
	gen      CredentialSource
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewProvisioningService creates a new ProvisioningService.
// A nil panel makes every run fail with PT_API_UNAVAILABLE.
func NewProvisioningService(
	cfg ProvisioningConfig,
	accounts repository.AccountRepository,
	panel PanelClient,
	gen CredentialSource,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ProvisioningService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &ProvisioningService{
		config:   cfg,
		accounts: accounts,
		panel:    panel,
		gen:      gen,
		metrics:  m,
		logger:   logger.With().Str("service", "provisioning").Logger(),
	}
}

// provisionRun carries per-run state through the steps.
type provisionRun struct {
	req      ProvisionRequest
	max      int
	logger   zerolog.Logger
	attempts int
}

func (r *provisionRun) transition(state ProvisionState, message string) {
	r.logger.Debug().
		Str("state", string(state)).
		Int("attempt", r.attempts).
		Msg(message)

	if r.req.Progress != nil {
		r.req.Progress(ProgressEvent{
			State:       state,
			Attempt:     r.attempts,
			MaxAttempts: r.max,
			Message:     message,
		})
	}
}

func (r *provisionRun) fail(code ProvisionCode, message, detail string) *ProvisionError {
	err := &ProvisionError{
		Code:     code,
		Message:  message,
		Detail:   detail,
		Attempts: r.attempts,
	}
	r.logger.Warn().
		Str("code", string(code)).
		Str("detail", detail).
		Int("attempts", r.attempts).
		Msg("provisioning failed")
	r.transition(StateFailed, message)
	return err
}

// Provision runs the provisioning workflow for an eligible user.
func (s *ProvisioningService) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	start := time.Now()
	run := &provisionRun{
		req: req,
		max: s.config.MaxAttempts,
		logger: s.logger.With().
			Str("run_id", uuid.NewString()).
			Int64("user_id", req.UserID).
			Logger(),
	}

	if s.metrics != nil {
		s.metrics.ProvisionInFlight.Inc()
		defer s.metrics.ProvisionInFlight.Dec()
	}

	result, perr := s.provision(ctx, run)

	if s.metrics != nil {
		code := ""
		if perr != nil {
			code = string(perr.Code)
		}
		s.metrics.RecordProvision(code, time.Since(start).Seconds(), run.attempts)
	}

	if perr != nil {
		return nil, perr
	}
	return result, nil
}

func (s *ProvisioningService) provision(ctx context.Context, run *provisionRun) (*ProvisionResult, *ProvisionError) {
	run.transition(StateEligible, "provisioning started")

	if s.panel == nil {
		return nil, run.fail(CodePanelUnavailable, "hosting panel is unavailable", "")
	}

	if run.req.StoredEmail != "" {
		exists, err := s.panel.AccountExists(ctx, run.req.StoredEmail, "")
		if err != nil {
			return nil, run.fail(CodeEmailCheckFailed, "could not verify email uniqueness", err.Error())
		}
		if exists {
			return nil, run.fail(CodeEmailExists, "email is already registered in the panel", "")
		}
	}

	var (
		creds      domain.Credentials
		server     *panel.ServerInfo
		lastDetail string
	)

	for attempt := 1; attempt <= run.max; attempt++ {
		run.attempts = attempt

		run.transition(StateGenerating, "generating credentials")
		creds = s.gen.Generate(run.req.UserID, run.req.DisplayName)

		run.transition(StateCheckingUniqueness, "checking credential uniqueness")
		exists, err := s.panel.AccountExists(ctx, creds.Email, creds.Username)
		if err != nil {
			// An unverifiable candidate is treated as taken.
			run.logger.Warn().Err(err).Str("username", creds.Username).Msg("uniqueness check failed")
			exists = true
		}
		if exists {
			if attempt == run.max {
				return nil, run.fail(CodeUserExistsExhausted, "could not generate unique credentials", "")
			}
			run.transition(StateGenerating, fmt.Sprintf("attempt %d of %d", attempt, run.max))
			continue
		}

		run.transition(StateCreatingRemote, "creating panel account and server")
		server, err = s.panel.CreateServerWithCredentials(ctx, creds)
		if err == nil {
			break
		}

		lastDetail = err.Error()
		run.logger.Warn().Err(err).Str("username", creds.Username).Msg("server creation attempt failed")
		if attempt == run.max {
			return nil, run.fail(CodeServerCreateFailed, "server creation failed", lastDetail)
		}
		run.transition(StateGenerating, fmt.Sprintf("attempt %d of %d", attempt, run.max))
	}

	if server == nil || server.Identifier == "" || server.Name == "" {
		return nil, run.fail(CodeServerAttrsMissing, "created server is missing its identifier or name", "")
	}

	run.transition(StatePersisting, "saving server")
	ref := domain.AccountRef{
		RemoteID:      server.Identifier,
		PanelServerID: server.ID,
		PanelUserID:   server.User,
		Name:          server.Name,
	}
	account, err := s.accounts.CreateWithCredentials(ctx, run.req.UserID, ref, creds)
	if err != nil {
		// The remote server stays; the reconciler picks it up.
		run.logger.Error().
			Err(err).
			Bool("orphan", true).
			Str("remote_id", ref.RemoteID).
			Int64("panel_server_id", ref.PanelServerID).
			Int64("panel_user_id", ref.PanelUserID).
			Msg("failed to save created server")
		if s.metrics != nil {
			s.metrics.ProvisionOrphans.Inc()
		}
		return nil, run.fail(CodeServerSaveFailed, "failed to save server", err.Error())
	}

	run.transition(StateDone, "server created")
	run.logger.Info().
		Str("remote_id", ref.RemoteID).
		Str("username", creds.Username).
		Int("attempts", run.attempts).
		Msg("server provisioned")

	return &ProvisionResult{
		RemoteID:      ref.RemoteID,
		PanelServerID: ref.PanelServerID,
		Name:          ref.Name,
		Credentials:   creds,
		Account:       account,
		Attempts:      run.attempts,
	}, nil
}
