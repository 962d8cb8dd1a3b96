package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "MUSICSWIPE"
	defaultHTTPAddress        = "0.0.0.0:3000"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "musicswipe.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultSessionTTL         = 5 * time.Minute
	defaultSessionIssuer      = "musicswipe-auth"
	defaultSessionAudience    = "musicswipe-api"
	defaultSpotifyAccountsURL = "https://accounts.spotify.com"
	defaultSpotifyAPIURL      = "https://api.spotify.com"
	defaultSpotifyHTTPTimeout = 10 * time.Second
)

var supportedDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
}

// SpotifyConfig holds the registered Spotify application credentials.
type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccountsURL  string
	APIURL       string
	HTTPTimeout  time.Duration
}

// Configured reports whether the Spotify application credentials are present.
func (c SpotifyConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURI != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabaseDriver  string
	DatabaseDSN     string
	LogLevel        string
	LogFormat       string
	SigningSecret   string
	SessionTTL      time.Duration
	SessionIssuer   string
	SessionAudience string
	Spotify         SpotifyConfig
	MetricsEnabled  bool
	AllowedOrigins  []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.session_ttl", defaultSessionTTL)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.audience", defaultSessionAudience)
	configViper.SetDefault("spotify.accounts_url", defaultSpotifyAccountsURL)
	configViper.SetDefault("spotify.api_url", defaultSpotifyAPIURL)
	configViper.SetDefault("spotify.http_timeout", defaultSpotifyHTTPTimeout)
	configViper.SetDefault("metrics.enabled", true)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     strings.TrimSpace(configViper.GetString("http.address")),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:     strings.TrimSpace(configViper.GetString("database.dsn")),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		SessionTTL:      configViper.GetDuration("auth.session_ttl"),
		SessionIssuer:   strings.TrimSpace(configViper.GetString("auth.issuer")),
		SessionAudience: strings.TrimSpace(configViper.GetString("auth.audience")),
		Spotify: SpotifyConfig{
			ClientID:     strings.TrimSpace(configViper.GetString("spotify.client_id")),
			ClientSecret: strings.TrimSpace(configViper.GetString("spotify.client_secret")),
			RedirectURI:  strings.TrimSpace(configViper.GetString("spotify.redirect_uri")),
			AccountsURL:  strings.TrimRight(strings.TrimSpace(configViper.GetString("spotify.accounts_url")), "/"),
			APIURL:       strings.TrimRight(strings.TrimSpace(configViper.GetString("spotify.api_url")), "/"),
			HTTPTimeout:  configViper.GetDuration("spotify.http_timeout"),
		},
		MetricsEnabled: configViper.GetBool("metrics.enabled"),
		AllowedOrigins: configViper.GetStringSlice("cors.allowed_origins"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if _, ok := supportedDrivers[c.DatabaseDriver]; !ok {
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	if c.SessionIssuer == "" || c.SessionAudience == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.Spotify.AccountsURL == "" || c.Spotify.APIURL == "" {
		return fmt.Errorf("spotify.accounts_url and spotify.api_url are required")
	}
	if c.Spotify.HTTPTimeout <= 0 {
		return fmt.Errorf("spotify.http_timeout must be positive")
	}
	credentials := 0
	for _, value := range []string{c.Spotify.ClientID, c.Spotify.ClientSecret, c.Spotify.RedirectURI} {
		if value != "" {
			credentials++
		}
	}
	if credentials != 0 && credentials != 3 {
		return fmt.Errorf("spotify.client_id, spotify.client_secret and spotify.redirect_uri must be set together")
	}
	return nil
}
