package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/links"
	"github.com/HugoGarrigues/MusicSwipe/internal/spotify"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubProvider struct {
	codes        map[string]spotify.Tokens
	profiles     map[string]spotify.Profile
	refreshed    spotify.Tokens
	refreshErr   error
	refreshCalls int
	exchangeCall int
}

func (p *stubProvider) AuthorizationURL() string {
	return "https://accounts.spotify.com/authorize?client_id=test"
}

func (p *stubProvider) ExchangeCode(_ context.Context, code string) (spotify.Tokens, error) {
	p.exchangeCall++
	tokens, ok := p.codes[code]
	if !ok {
		return spotify.Tokens{}, apperror.InvalidGrant("invalid or expired authorization code", nil)
	}
	return tokens, nil
}

func (p *stubProvider) FetchProfile(_ context.Context, accessToken string) (spotify.Profile, error) {
	profile, ok := p.profiles[accessToken]
	if !ok {
		return spotify.Profile{}, apperror.Unauthorized("spotify_token_rejected", "rejected", nil)
	}
	return profile, nil
}

func (p *stubProvider) RefreshTokens(_ context.Context, refreshToken string) (spotify.Tokens, error) {
	p.refreshCalls++
	if p.refreshErr != nil {
		return spotify.Tokens{}, p.refreshErr
	}
	tokens := p.refreshed
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

type fixture struct {
	linker   *Linker
	provider *stubProvider
	db       *gorm.DB
	issuer   *auth.TokenIssuer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "identity.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &links.OAuthLink{}))

	f := &fixture{
		db:  db,
		now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		provider: &stubProvider{
			codes: map[string]spotify.Tokens{
				"abc123": {AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: time.Hour},
				"bob":    {AccessToken: "access-bob", RefreshToken: "refresh-bob", ExpiresIn: time.Hour},
			},
			profiles: map[string]spotify.Profile{
				"access-1":   {ExternalID: "spotify_1", Email: "a@b.com", DisplayName: "Alice", AvatarURL: "https://i.scdn.co/a.jpg"},
				"access-bob": {ExternalID: "spotify_2", Email: "bob@b.com", DisplayName: "Bob"},
			},
		},
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "musicswipe-auth",
		Audience:      "musicswipe-api",
		Clock:         func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.issuer = issuer

	linker, err := NewLinker(LinkerConfig{
		Database: db,
		Provider: f.provider,
		Sessions: issuer,
		Clock:    func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.linker = linker
	return f
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) createUser(t *testing.T, email, username string, password bool) *users.User {
	t.Helper()
	user := &users.User{Email: email, Username: username}
	if password {
		hash := "$2a$04$placeholderhash"
		user.PasswordHash = &hash
	}
	require.NoError(t, users.NewStore(f.db).Create(context.Background(), user))
	return user
}

func TestLoginRegistersNewUser(t *testing.T) {
	f := newFixture(t)

	session, err := f.linker.Login(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegisterNewUser, session.Outcome)
	assert.Equal(t, "Bearer", session.TokenType)

	var user users.User
	require.NoError(t, f.db.Take(&user).Error)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, "Alice", user.Username)
	assert.Nil(t, user.PasswordHash)
	assert.Equal(t, "https://i.scdn.co/a.jpg", user.AvatarURL)

	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, user.ID, link.UserID)
	assert.Equal(t, links.ProviderSpotify, link.Provider)
	assert.Equal(t, "spotify_1", link.ProviderUserID)
	require.NotNil(t, link.TokenExpiresAt)
	assert.True(t, link.TokenExpiresAt.Equal(f.now.Add(time.Hour)))

	caller, err := f.issuer.Validate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, caller.UserID)
}

func TestLoginWithExistingLinkUpdatesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)

	f.provider.codes["abc123"] = spotify.Tokens{AccessToken: "access-1", RefreshToken: "refresh-rotated", ExpiresIn: 2 * time.Hour}
	second, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoginExistingLink, second.Outcome)
	assert.Equal(t, first.UserID, second.UserID)

	assert.Equal(t, int64(1), f.count(t, &users.User{}))
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))

	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, "refresh-rotated", link.RefreshToken)
	assert.True(t, link.TokenExpiresAt.Equal(f.now.Add(2*time.Hour)))
}

func TestLoginMatchesExistingEmail(t *testing.T) {
	f := newFixture(t)
	existing := f.createUser(t, "A@B.com", "alice-original", true)

	session, err := f.linker.Login(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoginViaEmail, session.Outcome)
	assert.Equal(t, existing.ID, session.UserID)

	assert.Equal(t, int64(1), f.count(t, &users.User{}))
	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, existing.ID, link.UserID)
}

func TestExistingLinkWinsOverEmailMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.createUser(t, "owner@b.com", "owner", true)
	f.createUser(t, "a@b.com", "email-holder", true)
	_, err := links.NewStore(f.db).Create(ctx, owner.ID, links.ProviderSpotify, "spotify_1", links.Tokens{AccessToken: "old"})
	require.NoError(t, err)

	session, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoginExistingLink, session.Outcome)
	assert.Equal(t, owner.ID, session.UserID)
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))
}

func TestLoginUsernameCollisionGetsSuffix(t *testing.T) {
	f := newFixture(t)
	f.createUser(t, "someone@else.com", "Alice", true)

	_, err := f.linker.Login(context.Background(), "abc123")
	require.NoError(t, err)

	var user users.User
	require.NoError(t, f.db.Where("email = ?", "a@b.com").Take(&user).Error)
	assert.Equal(t, "Alice2", user.Username)
}

func TestLoginFallsBackToSpotifyIDForUsername(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["access-1"] = spotify.Profile{ExternalID: "spotify_1", Email: "a@b.com"}

	_, err := f.linker.Login(context.Background(), "abc123")
	require.NoError(t, err)

	var user users.User
	require.NoError(t, f.db.Take(&user).Error)
	assert.Equal(t, "spotify_1", user.Username)
}

func TestLoginRejectsProfileWithoutEmail(t *testing.T) {
	f := newFixture(t)
	f.provider.profiles["access-1"] = spotify.Profile{ExternalID: "spotify_1", DisplayName: "Alice"}

	_, err := f.linker.Login(context.Background(), "abc123")
	require.ErrorIs(t, err, apperror.ErrValidation)
	assert.Zero(t, f.count(t, &users.User{}))
}

func TestLoginRejectedCodeIsInvalidGrant(t *testing.T) {
	f := newFixture(t)
	_, err := f.linker.Login(context.Background(), "expired")
	require.ErrorIs(t, err, apperror.ErrInvalidGrant)
	assert.Zero(t, f.count(t, &users.User{}))
}

func TestRegistrationRollsBackWhenLinkCannotBeCreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Exec("CREATE TRIGGER reject_links BEFORE INSERT ON oauth_links BEGIN SELECT RAISE(ABORT, 'links disabled'); END").Error)

	_, err := f.linker.Login(ctx, "abc123")
	require.Error(t, err)
	assert.Zero(t, f.count(t, &users.User{}), "user row must not survive a failed link insert")
}

func TestLinkToAuthenticatedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "someone@else.com", "someone", true)
	caller := auth.AuthenticatedContext{UserID: user.ID}

	require.NoError(t, f.linker.Link(ctx, caller, "abc123"))

	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, user.ID, link.UserID)
	assert.Equal(t, "spotify_1", link.ProviderUserID)
	assert.Equal(t, int64(1), f.count(t, &users.User{}), "linking never creates users")

	exchanges := f.provider.exchangeCall
	err := f.linker.Link(ctx, caller, "abc123")
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, exchanges, f.provider.exchangeCall, "an existing link is detected before calling Spotify")
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))
}

func TestLinkRejectsIdentityOwnedByAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createUser(t, "first@b.com", "first", true)
	second := f.createUser(t, "second@b.com", "second", true)

	require.NoError(t, f.linker.Link(ctx, auth.AuthenticatedContext{UserID: first.ID}, "abc123"))
	err := f.linker.Link(ctx, auth.AuthenticatedContext{UserID: second.ID}, "abc123")
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, "spotify_linked_elsewhere", apperror.Code(err))
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))
}

func TestLinkUnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.linker.Link(context.Background(), auth.AuthenticatedContext{UserID: 99}, "abc123")
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)
	caller := auth.AuthenticatedContext{UserID: session.UserID}

	err = f.linker.Unlink(ctx, caller)
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, "last_auth_method", apperror.Code(err))
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))

	require.NoError(t, users.NewStore(f.db).SetPasswordHash(ctx, session.UserID, "$2a$04$placeholderhash"))
	require.NoError(t, f.linker.Unlink(ctx, caller))
	assert.Zero(t, f.count(t, &links.OAuthLink{}))

	err = f.linker.Unlink(ctx, caller)
	require.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestUnlinkAllowedWithAnotherProviderLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)
	_, err = links.NewStore(f.db).Create(ctx, session.UserID, "deezer", "dz_1", links.Tokens{AccessToken: "dz"})
	require.NoError(t, err)

	require.NoError(t, f.linker.Unlink(ctx, auth.AuthenticatedContext{UserID: session.UserID}))
	assert.Equal(t, int64(1), f.count(t, &links.OAuthLink{}))
}

func TestAccessTokenFreshness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)

	token, err := f.linker.AccessToken(ctx, session.UserID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, f.provider.refreshCalls, "a valid token is used as is")

	f.now = f.now.Add(time.Hour)
	f.provider.refreshed = spotify.Tokens{AccessToken: "access-2", ExpiresIn: time.Hour}
	token, err = f.linker.AccessToken(ctx, session.UserID)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token, "expiry at now triggers a refresh")
	assert.Equal(t, 1, f.provider.refreshCalls)

	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, "access-2", link.AccessToken)
	assert.Equal(t, "refresh-1", link.RefreshToken)
	assert.True(t, link.TokenExpiresAt.Equal(f.now.Add(time.Hour)))
}

func TestAccessTokenRefreshesWhenMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "x@b.com", "x", true)
	_, err := links.NewStore(f.db).Create(ctx, user.ID, links.ProviderSpotify, "spotify_x", links.Tokens{RefreshToken: "refresh-x"})
	require.NoError(t, err)

	f.provider.refreshed = spotify.Tokens{AccessToken: "fresh"}
	token, err := f.linker.AccessToken(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, f.provider.refreshCalls)
}

func TestAccessTokenRefreshFailurePropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.linker.Login(ctx, "abc123")
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	f.provider.refreshErr = apperror.Unauthorized("spotify_refresh_rejected", "revoked", errors.New("invalid_grant"))
	_, err = f.linker.AccessToken(ctx, session.UserID)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, 1, f.provider.refreshCalls, "refresh is not retried")

	var link links.OAuthLink
	require.NoError(t, f.db.Take(&link).Error)
	assert.Equal(t, "access-1", link.AccessToken)
}

func TestAccessTokenWithoutLinkOrRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.createUser(t, "x@b.com", "x", true)

	_, err := f.linker.AccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrValidation)

	_, err = links.NewStore(f.db).Create(ctx, user.ID, links.ProviderSpotify, "spotify_x", links.Tokens{})
	require.NoError(t, err)
	_, err = f.linker.AccessToken(ctx, user.ID)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Zero(t, f.provider.refreshCalls)
}
