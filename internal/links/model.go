package links

import (
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/users"
)

// ProviderSpotify is the provider name stored for Spotify identities.
const ProviderSpotify = "spotify"

// OAuthLink binds one external provider identity to one internal user.
// (provider, provider_user_id) is globally unique and (user_id, provider) is
// unique per user.
type OAuthLink struct {
	ID             uint        `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         uint        `gorm:"column:user_id;not null;uniqueIndex:idx_oauth_links_user_provider,priority:1"`
	Provider       string      `gorm:"column:provider;size:32;not null;uniqueIndex:idx_oauth_links_user_provider,priority:2;uniqueIndex:idx_oauth_links_provider_identity,priority:1"`
	ProviderUserID string      `gorm:"column:provider_user_id;size:190;not null;uniqueIndex:idx_oauth_links_provider_identity,priority:2"`
	AccessToken    string      `gorm:"column:access_token;type:text"`
	RefreshToken   string      `gorm:"column:refresh_token;type:text"`
	TokenExpiresAt *time.Time  `gorm:"column:token_expires_at"`
	CreatedAt      time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;autoUpdateTime"`
	User           *users.User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// TableName exposes the table backing provider links.
func (OAuthLink) TableName() string {
	return "oauth_links"
}

// Tokens is the credential material stored on a link.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// NeedsRefresh reports whether the stored access token must be refreshed
// before use: it is missing, or its expiry is at or before now. A link without
// a recorded expiry is treated as still valid.
func (l OAuthLink) NeedsRefresh(now time.Time) bool {
	if l.AccessToken == "" {
		return true
	}
	return l.TokenExpiresAt != nil && !l.TokenExpiresAt.After(now)
}
