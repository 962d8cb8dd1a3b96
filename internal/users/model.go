package users

import (
	"strings"
	"time"
)

// User is the internal account identity. PasswordHash is nil for accounts that
// were created through a provider login and never given a password.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Username     string    `gorm:"column:username;size:190;not null;uniqueIndex" json:"username"`
	PasswordHash *string   `gorm:"column:password_hash;size:255" json:"-"`
	IsAdmin      bool      `gorm:"column:is_admin;not null;default:false" json:"isAdmin"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512" json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// NormalizeEmail lowercases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
