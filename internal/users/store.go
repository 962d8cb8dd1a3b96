package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"gorm.io/gorm"
)

// dependentTables hold rows keyed by user_id that go away with their owner.
var dependentTables = []string{"oauth_links", "ratings", "likes"}

// Store persists User rows.
type Store struct {
	db *gorm.DB
}

// NewStore wraps the provided database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Create inserts a user. Email or username collisions surface as Conflict.
func (s *Store) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	err := apperror.TranslateStorage(user.TableName(), s.db.WithContext(ctx).Create(user).Error)
	if apperror.IsUniqueViolation(err) {
		return apperror.ConflictFrom("user_exists", "a user with this email or username already exists", err)
	}
	if err != nil {
		return fmt.Errorf("users: creating user: %w", err)
	}
	return nil
}

// GetByID returns the user or a NotFound error.
func (s *Store) GetByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound("user_not_found", fmt.Sprintf("user %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("users: loading user %d: %w", id, err)
	}
	return &user, nil
}

// FindByEmail returns nil without error when no user owns the email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return nil, nil
	}
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("users: loading user by email: %w", err)
	}
	return &user, nil
}

func (s *Store) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, fmt.Errorf("users: checking username: %w", err)
	}
	return count > 0, nil
}

func (s *Store) SetPasswordHash(ctx context.Context, id uint, hash string) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("password_hash", hash)
	if result.Error != nil {
		return fmt.Errorf("users: updating password for %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("user_not_found", fmt.Sprintf("user %d not found", id))
	}
	return nil
}

// Delete removes the user together with its links, ratings and likes.
func (s *Store) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range dependentTables {
			if err := tx.Exec("DELETE FROM "+table+" WHERE user_id = ?", id).Error; err != nil {
				return fmt.Errorf("users: deleting %s of %d: %w", table, id, err)
			}
		}
		result := tx.Where("id = ?", id).Delete(&User{})
		if result.Error != nil {
			return fmt.Errorf("users: deleting user %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return apperror.NotFound("user_not_found", fmt.Sprintf("user %d not found", id))
		}
		return nil
	})
}
