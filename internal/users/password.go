package users

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultBcryptCost = 12
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var (
	ErrPasswordTooShort = errors.New("users: password too short")
	ErrPasswordTooLong  = errors.New("users: password too long")
	ErrPasswordMismatch = errors.New("users: password mismatch")
)

// PasswordHasher is the one-way function used for User.PasswordHash.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a bcrypt hasher. A cost of zero selects the default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = defaultBcryptCost
	}
	return &PasswordHasher{cost: cost}
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if len(plaintext) < minPasswordLength {
		return "", ErrPasswordTooShort
	}
	if len(plaintext) > maxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("users: hashing password: %w", err)
	}
	return string(hashed), nil
}

func (h *PasswordHasher) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return fmt.Errorf("users: comparing password hash: %w", err)
}
