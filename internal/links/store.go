package links

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"gorm.io/gorm"
)

// Store is the durable home of OAuthLink rows and the only writer of token material.
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

// FindByProviderIdentity returns nil without error when the identity is not linked.
func (s *Store) FindByProviderIdentity(ctx context.Context, provider, externalID string) (*OAuthLink, error) {
	return s.findOne(ctx, "provider = ? AND provider_user_id = ?", provider, externalID)
}

// FindByUserAndProvider returns nil without error when the user has no link for provider.
func (s *Store) FindByUserAndProvider(ctx context.Context, userID uint, provider string) (*OAuthLink, error) {
	return s.findOne(ctx, "user_id = ? AND provider = ?", userID, provider)
}

func (s *Store) ListByUser(ctx context.Context, userID uint) ([]OAuthLink, error) {
	var rows []OAuthLink
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("links: listing links of user %d: %w", userID, err)
	}
	return rows, nil
}

// Create inserts a link. A collision on either unique index is reported as a
// Conflict wrapping *apperror.UniqueViolation. The owning user must exist.
func (s *Store) Create(ctx context.Context, userID uint, provider, externalID string, tokens Tokens) (*OAuthLink, error) {
	provider = strings.TrimSpace(provider)
	externalID = strings.TrimSpace(externalID)
	if provider == "" || externalID == "" {
		return nil, apperror.Validation("invalid_link", "provider and provider user id are required")
	}
	link := &OAuthLink{
		UserID:         userID,
		Provider:       provider,
		ProviderUserID: externalID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		TokenExpiresAt: tokens.ExpiresAt,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := users.NewStore(tx).GetByID(ctx, userID); err != nil {
			return err
		}
		return apperror.TranslateStorage(link.TableName(), tx.Create(link).Error)
	})
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}
	if apperror.IsUniqueViolation(err) {
		return nil, apperror.ConflictFrom("link_conflict", "this "+provider+" account is already linked", err)
	}
	if err != nil {
		return nil, fmt.Errorf("links: creating %s link for user %d: %w", provider, userID, err)
	}
	return link, nil
}

// UpdateTokens overwrites the token fields of a link. An empty refresh token
// keeps the stored one, since providers may omit it on refresh.
func (s *Store) UpdateTokens(ctx context.Context, linkID uint, tokens Tokens) (*OAuthLink, error) {
	updates := map[string]interface{}{
		"access_token":     tokens.AccessToken,
		"token_expires_at": tokens.ExpiresAt,
	}
	if tokens.RefreshToken != "" {
		updates["refresh_token"] = tokens.RefreshToken
	}

	var link OAuthLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OAuthLink{}).Where("id = ?", linkID).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("links: updating tokens of link %d: %w", linkID, result.Error)
		}
		if result.RowsAffected == 0 {
			return linkNotFound(linkID)
		}
		return tx.Where("id = ?", linkID).Take(&link).Error
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// Delete removes a link. The caller is responsible for the last-auth-method check.
func (s *Store) Delete(ctx context.Context, linkID uint) error {
	result := s.db.WithContext(ctx).Where("id = ?", linkID).Delete(&OAuthLink{})
	if result.Error != nil {
		return fmt.Errorf("links: deleting link %d: %w", linkID, result.Error)
	}
	if result.RowsAffected == 0 {
		return linkNotFound(linkID)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, query string, args ...interface{}) (*OAuthLink, error) {
	var link OAuthLink
	err := s.db.WithContext(ctx).Where(query, args...).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("links: lookup failed: %w", err)
	}
	return &link, nil
}

func linkNotFound(linkID uint) error {
	return apperror.NotFound("link_not_found", fmt.Sprintf("link %d not found", linkID))
}
