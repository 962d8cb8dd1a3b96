package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 5 * time.Minute
	// TokenType is the scheme clients present session tokens with.
	TokenType = "Bearer"
)

var (
	errMissingSigningSecret = errors.New("auth: signing secret must be provided")
	errMissingIssuer        = errors.New("auth: issuer must be provided")
	errMissingAudience      = errors.New("auth: audience must be provided")
	errMissingSubjectClaim  = errors.New("auth: subject claim must be provided")
)

// AuthenticatedContext identifies the caller of an authenticated request.
type AuthenticatedContext struct {
	UserID  uint
	IsAdmin bool
}

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	IsAdmin bool `json:"adm"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates the configuration and applies the default TTL.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, errMissingAudience
	}
	ttl := cfg.TokenTTL
	if ttl < 0 {
		return nil, fmt.Errorf("auth: token ttl must be positive, got %s", ttl)
	}
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token and its lifetime in seconds.
func (i *TokenIssuer) Issue(_ context.Context, userID uint, isAdmin bool) (string, int64, error) {
	if userID == 0 {
		return "", 0, errMissingSubjectClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := SessionClaims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, fmt.Errorf("auth: signing session token: %w", err)
	}
	return signed, int64(i.ttl.Seconds()), nil
}

// Validate checks signature, algorithm, expiry, issuer and audience and
// returns the caller identity carried by the token.
func (i *TokenIssuer) Validate(tokenString string) (AuthenticatedContext, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return AuthenticatedContext{}, apperror.Unauthorized("missing_token", "missing bearer token", nil)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AuthenticatedContext{}, apperror.Unauthorized("token_expired", "session token expired", err)
		}
		return AuthenticatedContext{}, apperror.Unauthorized("invalid_token", "invalid session token", err)
	}

	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || userID == 0 {
		return AuthenticatedContext{}, apperror.Unauthorized("invalid_token", "invalid session subject", err)
	}
	return AuthenticatedContext{UserID: uint(userID), IsAdmin: claims.IsAdmin}, nil
}

// TTL reports the configured session lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}
