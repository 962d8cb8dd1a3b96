// Package spotify talks to the Spotify accounts service and Web API: it builds
// authorization URLs, exchanges authorization codes, refreshes tokens and reads
// the profile and listening history of a user. Calls are never retried.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultAccountsURL = "https://accounts.spotify.com"
	DefaultAPIURL      = "https://api.spotify.com"

	defaultHTTPTimeout = 10 * time.Second
	maxRecentlyPlayed  = 50
	errorBodyLimit     = 1 << 10

	opExchangeCode   = "exchange_code"
	opRefreshTokens  = "refresh_tokens"
	opFetchProfile   = "fetch_profile"
	opRecentlyPlayed = "recently_played"
)

// Scopes requested for every authorization.
var Scopes = []string{
	"user-read-email",
	"user-read-private",
	"user-top-read",
	"user-read-recently-played",
	"playlist-read-private",
	"playlist-read-collaborative",
}

var (
	errMissingClientID     = errors.New("spotify: client id is required")
	errMissingClientSecret = errors.New("spotify: client secret is required")
	errMissingRedirectURI  = errors.New("spotify: redirect uri is required")
)

// Config holds the registered application and the endpoints to talk to.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccountsURL  string
	APIURL       string
	HTTPClient   *http.Client
	Metrics      metrics.Recorder
	Logger       *zap.Logger
}

// Tokens is a token set returned by the accounts service.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// ExpiresAt returns the absolute expiry, or nil when the provider sent no lifetime.
func (t Tokens) ExpiresAt(now time.Time) *time.Time {
	if t.ExpiresIn <= 0 {
		return nil
	}
	expiresAt := now.Add(t.ExpiresIn).UTC()
	return &expiresAt
}

// Profile is the subset of the Spotify user object the service relies on.
type Profile struct {
	ExternalID  string
	DisplayName string
	Email       string
	AvatarURL   string
	Country     string
}

// PlayedTrack is one entry of the recently played history.
type PlayedTrack struct {
	SpotifyID       string
	Title           string
	ArtistName      string
	AlbumName       string
	DurationSeconds int
	PreviewURL      string
	PlayedAt        time.Time
}

// Client is safe for concurrent use.
type Client struct {
	oauth      *oauth2.Config
	apiURL     string
	httpClient *http.Client
	metrics    metrics.Recorder
	logger     *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, errMissingRedirectURI
	}
	accountsURL := strings.TrimRight(strings.TrimSpace(cfg.AccountsURL), "/")
	if accountsURL == "" {
		accountsURL = DefaultAccountsURL
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   accountsURL + "/authorize",
				TokenURL:  accountsURL + "/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiURL:     apiURL,
		httpClient: httpClient,
		metrics:    recorder,
		logger:     logger,
	}, nil
}

// AuthorizationURL returns the consent page URL carrying the client id,
// redirect URI and the requested scopes.
func (c *Client) AuthorizationURL() string {
	return c.oauth.AuthCodeURL("")
}

// ExchangeCode trades an authorization code for tokens. A rejected code is
// reported as an invalid grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Tokens, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Tokens{}, apperror.Validation("missing_code", "authorization code is required")
	}

	start := time.Now()
	token, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	c.metrics.RecordProviderCall(opExchangeCode, err == nil, time.Since(start))
	if err != nil {
		if retrieveErr := rejection(err); retrieveErr != nil {
			c.logger.Info("spotify rejected authorization code",
				zap.Int("status", retrieveErr.Response.StatusCode),
				zap.String("error_code", retrieveErr.ErrorCode))
			return Tokens{}, apperror.InvalidGrant("invalid or expired authorization code", err)
		}
		return Tokens{}, fmt.Errorf("spotify: exchanging authorization code: %w", err)
	}
	return tokensFrom(token, time.Now()), nil
}

// RefreshTokens obtains a new access token. A rejected refresh token is
// terminal for the link and reported as unauthorized. When Spotify does not
// rotate the refresh token the returned set carries the one passed in.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Tokens{}, apperror.Unauthorized("spotify_token_missing", "spotify refresh token is missing", nil)
	}

	start := time.Now()
	source := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	c.metrics.RecordProviderCall(opRefreshTokens, err == nil, time.Since(start))
	c.metrics.RecordTokenRefresh(err == nil)
	if err != nil {
		if rejection(err) != nil {
			return Tokens{}, apperror.Unauthorized("spotify_refresh_rejected", "spotify session expired, please log in again", err)
		}
		return Tokens{}, fmt.Errorf("spotify: refreshing token: %w", err)
	}

	tokens := tokensFrom(token, time.Now())
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

type userObject struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Images      []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// FetchProfile reads the current user's profile with the given access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var user userObject
	if err := c.getJSON(ctx, opFetchProfile, accessToken, "/v1/me", &user); err != nil {
		return Profile{}, err
	}
	if user.ID == "" {
		return Profile{}, fmt.Errorf("spotify: profile response has no user id")
	}
	profile := Profile{
		ExternalID:  user.ID,
		DisplayName: strings.TrimSpace(user.DisplayName),
		Email:       strings.TrimSpace(user.Email),
		Country:     user.Country,
	}
	if len(user.Images) > 0 {
		profile.AvatarURL = user.Images[0].URL
	}
	return profile, nil
}

type recentlyPlayedResponse struct {
	Items []struct {
		PlayedAt time.Time `json:"played_at"`
		Track    struct {
			ID         string  `json:"id"`
			Name       string  `json:"name"`
			DurationMS int     `json:"duration_ms"`
			PreviewURL *string `json:"preview_url"`
			Artists    []struct {
				Name string `json:"name"`
			} `json:"artists"`
			Album struct {
				Name string `json:"name"`
			} `json:"album"`
		} `json:"track"`
	} `json:"items"`
}

// RecentlyPlayed returns the listening history, most recent first. The limit
// is clamped to the range Spotify accepts.
func (c *Client) RecentlyPlayed(ctx context.Context, accessToken string, limit int) ([]PlayedTrack, error) {
	limit = ClampLimit(limit)
	path := "/v1/me/player/recently-played?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()

	var response recentlyPlayedResponse
	if err := c.getJSON(ctx, opRecentlyPlayed, accessToken, path, &response); err != nil {
		return nil, err
	}

	played := make([]PlayedTrack, 0, len(response.Items))
	for _, item := range response.Items {
		artists := make([]string, 0, len(item.Track.Artists))
		for _, artist := range item.Track.Artists {
			artists = append(artists, artist.Name)
		}
		entry := PlayedTrack{
			SpotifyID:       item.Track.ID,
			Title:           item.Track.Name,
			ArtistName:      strings.Join(artists, ", "),
			AlbumName:       item.Track.Album.Name,
			DurationSeconds: (item.Track.DurationMS + 500) / 1000,
			PlayedAt:        item.PlayedAt,
		}
		if item.Track.PreviewURL != nil {
			entry.PreviewURL = *item.Track.PreviewURL
		}
		played = append(played, entry)
	}
	return played, nil
}

// ClampLimit bounds a history page size to 1..50.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxRecentlyPlayed {
		return maxRecentlyPlayed
	}
	return limit
}

func (c *Client) getJSON(ctx context.Context, operation, accessToken, path string, target interface{}) error {
	if strings.TrimSpace(accessToken) == "" {
		return apperror.Unauthorized("spotify_token_missing", "spotify access token is missing", nil)
	}
	client := oauth2.NewClient(c.withHTTPClient(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("spotify: building %s request: %w", operation, err)
	}
	request.Header.Set("Accept", "application/json")

	start := time.Now()
	response, err := client.Do(request)
	if err != nil {
		c.metrics.RecordProviderCall(operation, false, time.Since(start))
		return fmt.Errorf("spotify: %s: %w", operation, err)
	}
	defer response.Body.Close()
	c.metrics.RecordProviderCall(operation, response.StatusCode == http.StatusOK, time.Since(start))

	switch {
	case response.StatusCode == http.StatusUnauthorized, response.StatusCode == http.StatusForbidden:
		return apperror.Unauthorized("spotify_token_rejected", "spotify rejected the access token", fmt.Errorf("spotify: %s: status %d", operation, response.StatusCode))
	case response.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))
		return fmt.Errorf("spotify: %s: status %s: %s", operation, response.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("spotify: decoding %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// rejection returns the provider error when Spotify answered with a 4xx.
func rejection(err error) *oauth2.RetrieveError {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) || retrieveErr.Response == nil {
		return nil
	}
	if retrieveErr.Response.StatusCode >= 400 && retrieveErr.Response.StatusCode < 500 {
		return retrieveErr
	}
	return nil
}

func tokensFrom(token *oauth2.Token, now time.Time) Tokens {
	tokens := Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	switch {
	case token.ExpiresIn > 0:
		tokens.ExpiresIn = time.Duration(token.ExpiresIn) * time.Second
	case !token.Expiry.IsZero():
		tokens.ExpiresIn = token.Expiry.Sub(now).Round(time.Second)
	}
	return tokens
}
