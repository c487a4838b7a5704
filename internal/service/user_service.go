package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/domain"
	"github.com/cloudspb/hostbot/internal/repository"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserService handles user-facing account operations.
type UserService struct {
	userRepo    repository.UserRepository
	accountRepo repository.AccountRepository
	actionLog   repository.ActionLogRepository
	logger      zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(
	userRepo repository.UserRepository,
	accountRepo repository.AccountRepository,
	actionLog repository.ActionLogRepository,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		actionLog:   actionLog,
		logger:      logger.With().Str("service", "user").Logger(),
	}
}

// RegisterInput contains the chat profile of a user.
type RegisterInput struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// RegisterOutput contains the result of registering a user.
type RegisterOutput struct {
	User    *domain.User
	Created bool
}

// Register creates the user on first interaction. Repeated calls return the
// stored user unchanged.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*RegisterOutput, error) {
	if input.TelegramID == 0 {
		return nil, fmt.Errorf("%w: telegram id is required", ErrInvalidTarget)
	}

	user := domain.NewUser(input.TelegramID, strings.TrimPrefix(input.Username, "@"), input.FirstName, input.LastName)
	created, err := s.userRepo.Create(ctx, user)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", input.TelegramID).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if created {
		s.logger.Info().
			Int64("user_id", user.TelegramID).
			Str("username", user.Username).
			Msg("user registered")
		return &RegisterOutput{User: user, Created: true}, nil
	}

	stored, err := s.userRepo.GetByTelegramID(ctx, input.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return &RegisterOutput{User: stored}, nil
}

// NormalizeEmail trims and lowercases raw input and validates its format.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SetEmail stores the user's email of record. An email held by another user
// bans the requester.
func (s *UserService) SetEmail(ctx context.Context, telegramID int64, raw string) (string, error) {
	email, err := NormalizeEmail(raw)
	if err != nil {
		return "", err
	}

	unique, err := s.userRepo.IsEmailUnique(ctx, email, telegramID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !unique {
		return "", s.banForDuplicateEmail(ctx, telegramID, email)
	}

	if err := s.userRepo.SetEmail(ctx, telegramID, email); err != nil {
		switch {
		case errors.Is(err, domain.ErrEmailTaken):
			return "", s.banForDuplicateEmail(ctx, telegramID, email)
		case errors.Is(err, domain.ErrUserNotFound):
			return "", err
		}
		s.logger.Error().Err(err).Int64("user_id", telegramID).Msg("failed to save email")
		return "", fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", telegramID).Msg("email saved")
	return email, nil
}

func (s *UserService) banForDuplicateEmail(ctx context.Context, telegramID int64, email string) error {
	reason := "attempt to use non-unique email: " + email
	if err := s.userRepo.Ban(ctx, telegramID, reason); err != nil {
		s.logger.Error().Err(err).Int64("user_id", telegramID).Msg("failed to ban user")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Warn().Int64("user_id", telegramID).Msg("user banned for non-unique email")

	entry := domain.NewAuditLogEntry(domain.SystemAdminID, domain.ActionBanUser, telegramID, reason)
	if err := s.actionLog.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).Msg("failed to record ban")
	}
	return ErrEmailTakenBanned
}

// Get returns a user by chat id.
func (s *UserService) Get(ctx context.Context, telegramID int64) (*domain.User, error) {
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// Accounts returns the user's hosting accounts.
func (s *UserService) Accounts(ctx context.Context, telegramID int64) ([]*domain.HostingAccount, error) {
	if _, err := s.Get(ctx, telegramID); err != nil {
		return nil, err
	}

	accounts, err := s.accountRepo.ListByUser(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return accounts, nil
}
