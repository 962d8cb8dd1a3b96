// Package identity resolves Spotify logins and explicit link/unlink requests
// against the stored users and OAuth links, and keeps linked access tokens fresh.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/links"
	"github.com/HugoGarrigues/MusicSwipe/internal/metrics"
	"github.com/HugoGarrigues/MusicSwipe/internal/spotify"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome names the branch a request resolved into.
type Outcome string

const (
	OutcomeLoginExistingLink Outcome = "login_existing_link"
	OutcomeLoginViaEmail     Outcome = "login_via_email_match"
	OutcomeRegisterNewUser   Outcome = "register_new_user"
	OutcomeLinked            Outcome = "link_to_authenticated_user"
	OutcomeUnlinked          Outcome = "unlink"
	OutcomeTokenRefreshed    Outcome = "token_refreshed"

	maxUsernameAttempts = 50
)

var (
	errMissingDatabase = errors.New("identity: database handle is required")
	errMissingProvider = errors.New("identity: provider client is required")
	errMissingSessions = errors.New("identity: session issuer is required")
)

// Provider is the subset of the Spotify client the linker drives.
type Provider interface {
	AuthorizationURL() string
	ExchangeCode(ctx context.Context, code string) (spotify.Tokens, error)
	FetchProfile(ctx context.Context, accessToken string) (spotify.Profile, error)
	RefreshTokens(ctx context.Context, refreshToken string) (spotify.Tokens, error)
}

// SessionIssuer mints session tokens for internal users.
type SessionIssuer interface {
	Issue(ctx context.Context, userID uint, isAdmin bool) (string, int64, error)
}

// Session is the result of a successful provider login.
type Session struct {
	AccessToken string
	ExpiresIn   int64
	TokenType   string
	UserID      uint
	Outcome     Outcome
}

// LinkerConfig wires the linker's collaborators.
type LinkerConfig struct {
	Database *gorm.DB
	Provider Provider
	Sessions SessionIssuer
	Metrics  metrics.Recorder
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Linker owns the login, link, unlink and token freshness flows.
type Linker struct {
	db       *gorm.DB
	users    *users.Store
	links    *links.Store
	provider Provider
	sessions SessionIssuer
	metrics  metrics.Recorder
	logger   *zap.Logger
	clock    func() time.Time
}

func NewLinker(cfg LinkerConfig) (*Linker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Linker{
		db:       cfg.Database,
		users:    users.NewStore(cfg.Database),
		links:    links.NewStore(cfg.Database),
		provider: cfg.Provider,
		sessions: cfg.Sessions,
		metrics:  recorder,
		logger:   logger,
		clock:    clock,
	}, nil
}

// AuthorizationURL is the consent URL used for both login and linking.
func (l *Linker) AuthorizationURL() string {
	return l.provider.AuthorizationURL()
}

// Login exchanges the code and signs the caller in. An existing link for the
// Spotify identity always wins; the profile email is only consulted when no
// link exists, and a new user is registered when nothing matches.
func (l *Linker) Login(ctx context.Context, code string) (Session, error) {
	tokens, profile, err := l.exchange(ctx, code)
	if err != nil {
		return Session{}, err
	}
	stored := l.linkTokens(tokens)

	existing, err := l.links.FindByProviderIdentity(ctx, links.ProviderSpotify, profile.ExternalID)
	if err != nil {
		return Session{}, err
	}
	if existing != nil {
		if _, err := l.links.UpdateTokens(ctx, existing.ID, stored); err != nil {
			return Session{}, err
		}
		owner, err := l.users.GetByID(ctx, existing.UserID)
		if err != nil {
			return Session{}, err
		}
		return l.issue(ctx, owner, OutcomeLoginExistingLink)
	}

	email := users.NormalizeEmail(profile.Email)
	if email == "" {
		l.record(OutcomeRegisterNewUser, "email_missing")
		return Session{}, apperror.Validation("spotify_email_missing", "the Spotify account has no email address")
	}

	match, err := l.users.FindByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if match != nil {
		if _, err := l.links.Create(ctx, match.ID, links.ProviderSpotify, profile.ExternalID, stored); err != nil {
			l.record(OutcomeLoginViaEmail, "conflict")
			return Session{}, err
		}
		return l.issue(ctx, match, OutcomeLoginViaEmail)
	}

	created, err := l.register(ctx, email, profile, stored)
	if err != nil {
		l.record(OutcomeRegisterNewUser, "failed")
		return Session{}, err
	}
	return l.issue(ctx, created, OutcomeRegisterNewUser)
}

// Link attaches the Spotify identity behind code to the authenticated user.
// The profile email is not compared with the user's.
func (l *Linker) Link(ctx context.Context, caller auth.AuthenticatedContext, code string) error {
	if _, err := l.users.GetByID(ctx, caller.UserID); err != nil {
		return err
	}
	current, err := l.links.FindByUserAndProvider(ctx, caller.UserID, links.ProviderSpotify)
	if err != nil {
		return err
	}
	if current != nil {
		l.record(OutcomeLinked, "already_linked")
		return apperror.Conflict("spotify_already_linked", "a Spotify account is already linked to this user")
	}

	tokens, profile, err := l.exchange(ctx, code)
	if err != nil {
		return err
	}

	owner, err := l.links.FindByProviderIdentity(ctx, links.ProviderSpotify, profile.ExternalID)
	if err != nil {
		return err
	}
	if owner != nil {
		l.record(OutcomeLinked, "linked_elsewhere")
		return apperror.Conflict("spotify_linked_elsewhere", "this Spotify account is already linked to another user")
	}

	if _, err := l.links.Create(ctx, caller.UserID, links.ProviderSpotify, profile.ExternalID, l.linkTokens(tokens)); err != nil {
		l.record(OutcomeLinked, "conflict")
		return err
	}
	l.record(OutcomeLinked, "ok")
	l.logger.Info("spotify account linked", zap.Uint("user_id", caller.UserID), zap.String("spotify_id", profile.ExternalID))
	return nil
}

// Unlink removes the caller's Spotify link unless it is their last way to log in.
func (l *Linker) Unlink(ctx context.Context, caller auth.AuthenticatedContext) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		linkStore := l.links.WithTx(tx)
		link, err := linkStore.FindByUserAndProvider(ctx, caller.UserID, links.ProviderSpotify)
		if err != nil {
			return err
		}
		if link == nil {
			return apperror.NotFound("spotify_not_linked", "no Spotify account is linked to this user")
		}
		user, err := l.users.WithTx(tx).GetByID(ctx, caller.UserID)
		if err != nil {
			return err
		}
		all, err := linkStore.ListByUser(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if !user.HasPassword() && len(all) <= 1 {
			l.record(OutcomeUnlinked, "last_auth_method")
			return apperror.Conflict("last_auth_method", "set a password before unlinking your only login method")
		}
		if err := linkStore.Delete(ctx, link.ID); err != nil {
			return err
		}
		l.record(OutcomeUnlinked, "ok")
		return nil
	})
}

// AccessToken returns a usable Spotify access token for the user, refreshing
// and persisting a new one when none is stored or the stored one has expired.
func (l *Linker) AccessToken(ctx context.Context, userID uint) (string, error) {
	link, err := l.links.FindByUserAndProvider(ctx, userID, links.ProviderSpotify)
	if err != nil {
		return "", err
	}
	if link == nil {
		return "", apperror.Validation("spotify_not_linked", "no Spotify account is linked, please link your account")
	}

	now := l.clock()
	if !link.NeedsRefresh(now) {
		return link.AccessToken, nil
	}
	if link.RefreshToken == "" {
		return "", apperror.Unauthorized("spotify_token_missing", "spotify session expired, please log in again", nil)
	}

	refreshed, err := l.provider.RefreshTokens(ctx, link.RefreshToken)
	if err != nil {
		l.logger.Warn("spotify token refresh failed", zap.Uint("user_id", userID), zap.Error(err))
		return "", err
	}
	updated, err := l.links.UpdateTokens(ctx, link.ID, links.Tokens{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.ExpiresAt(now),
	})
	if err != nil {
		return "", err
	}
	l.record(OutcomeTokenRefreshed, "ok")
	return updated.AccessToken, nil
}

func (l *Linker) exchange(ctx context.Context, code string) (spotify.Tokens, spotify.Profile, error) {
	tokens, err := l.provider.ExchangeCode(ctx, code)
	if err != nil {
		return spotify.Tokens{}, spotify.Profile{}, err
	}
	profile, err := l.provider.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return spotify.Tokens{}, spotify.Profile{}, err
	}
	return tokens, profile, nil
}

// register creates the user and its link in one transaction.
func (l *Linker) register(ctx context.Context, email string, profile spotify.Profile, tokens links.Tokens) (*users.User, error) {
	var created *users.User
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userStore := l.users.WithTx(tx)
		username, err := availableUsername(ctx, userStore, profile)
		if err != nil {
			return err
		}
		user := &users.User{Email: email, Username: username, AvatarURL: profile.AvatarURL}
		if err := userStore.Create(ctx, user); err != nil {
			return err
		}
		if _, err := l.links.WithTx(tx).Create(ctx, user.ID, links.ProviderSpotify, profile.ExternalID, tokens); err != nil {
			return err
		}
		created = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("user registered through spotify", zap.Uint("user_id", created.ID), zap.String("spotify_id", profile.ExternalID))
	return created, nil
}

// availableUsername uses the display name, or the Spotify id without one, and
// appends a numeric suffix while the name is taken.
func availableUsername(ctx context.Context, store *users.Store, profile spotify.Profile) (string, error) {
	base := strings.TrimSpace(profile.DisplayName)
	if base == "" {
		base = profile.ExternalID
	}
	candidate := base
	for attempt := 2; attempt <= maxUsernameAttempts+1; attempt++ {
		taken, err := store.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(attempt)
	}
	return "", apperror.Conflict("username_unavailable", fmt.Sprintf("no username available for %q", base))
}

func (l *Linker) issue(ctx context.Context, user *users.User, outcome Outcome) (Session, error) {
	token, expiresIn, err := l.sessions.Issue(ctx, user.ID, user.IsAdmin)
	if err != nil {
		return Session{}, fmt.Errorf("identity: issuing session for user %d: %w", user.ID, err)
	}
	l.record(outcome, "ok")
	l.metrics.RecordSessionIssued("spotify")
	l.logger.Info("spotify login", zap.Uint("user_id", user.ID), zap.String("outcome", string(outcome)))
	return Session{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   auth.TokenType,
		UserID:      user.ID,
		Outcome:     outcome,
	}, nil
}

func (l *Linker) linkTokens(tokens spotify.Tokens) links.Tokens {
	return links.Tokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt(l.clock()),
	}
}

func (l *Linker) record(outcome Outcome, reason string) {
	if reason == "ok" {
		l.metrics.RecordIdentityOutcome(string(outcome))
		return
	}
	l.metrics.RecordIdentityOutcome(string(outcome) + "_" + reason)
	l.logger.Debug("identity request rejected", zap.String("outcome", string(outcome)), zap.String("reason", reason))
}
