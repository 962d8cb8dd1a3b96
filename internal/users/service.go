package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   *PasswordHasher
	Logger   *zap.Logger
}

// Service handles password-based registration and login.
type Service struct {
	store  *Store
	hasher *PasswordHasher
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = NewPasswordHasher(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  NewStore(cfg.Database),
		hasher: hasher,
		logger: logger,
	}, nil
}

// Register creates a password account.
func (s *Service) Register(ctx context.Context, email, username, password string) (*User, error) {
	email = NormalizeEmail(email)
	username = strings.TrimSpace(username)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperror.Validation("invalid_email", "a valid email is required")
	}
	if username == "" {
		return nil, apperror.Validation("invalid_username", "username is required")
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{Email: email, Username: username, PasswordHash: &hash}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.Uint("user_id", user.ID))
	return user, nil
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NotFound("user_not_found", "no user found for this email")
	}
	if !user.HasPassword() {
		return nil, apperror.Unauthorized("password_not_set", "account created with Spotify, please use Spotify login", nil)
	}
	if err := s.hasher.Verify(*user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, apperror.Unauthorized("invalid_password", "invalid password", nil)
		}
		return nil, err
	}
	return user, nil
}

// SetPassword gives the account a (new) password.
func (s *Service) SetPassword(ctx context.Context, userID uint, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.Info("user password set", zap.Uint("user_id", userID))
	return nil
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, userID uint) (*User, error) {
	return s.store.GetByID(ctx, userID)
}

// Delete removes an account. Only administrators reach this through the API.
func (s *Service) Delete(ctx context.Context, userID uint) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", zap.Uint("user_id", userID))
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	switch {
	case errors.Is(err, ErrPasswordTooShort):
		return "", apperror.Validation("password_too_short", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case errors.Is(err, ErrPasswordTooLong):
		return "", apperror.Validation("password_too_long", fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
	case err != nil:
		return "", err
	}
	return hash, nil
}
