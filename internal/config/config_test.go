package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	require.NoError(t, err)

	assert.Equal(t, defaultHTTPAddress, cfg.HTTPAddress)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, defaultDatabaseDSN, cfg.DatabaseDSN)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "https://accounts.spotify.com", cfg.Spotify.AccountsURL)
	assert.Equal(t, "https://api.spotify.com", cfg.Spotify.APIURL)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.Spotify.Configured())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("MUSICSWIPE_AUTH_SIGNING_SECRET", "env-secret")
	t.Setenv("MUSICSWIPE_SPOTIFY_CLIENT_ID", "client")
	t.Setenv("MUSICSWIPE_SPOTIFY_CLIENT_SECRET", "shh")
	t.Setenv("MUSICSWIPE_SPOTIFY_REDIRECT_URI", "http://localhost:3001/callback")
	t.Setenv("MUSICSWIPE_DATABASE_DRIVER", "Postgres")
	t.Setenv("MUSICSWIPE_DATABASE_DSN", "postgres://localhost/musicswipe")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.SigningSecret)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.True(t, cfg.Spotify.Configured())
	assert.Equal(t, "http://localhost:3001/callback", cfg.Spotify.RedirectURI)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	configViper := NewViper()
	_, err := Load(configViper)
	require.Error(t, err, "signing secret must be required")

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("database.driver", "mysql")
	_, err = Load(configViper)
	require.Error(t, err, "unsupported driver must be rejected")

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("auth.session_ttl", "0s")
	_, err = Load(configViper)
	require.Error(t, err, "non-positive session ttl must be rejected")

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("spotify.http_timeout", "0s")
	_, err = Load(configViper)
	require.Error(t, err, "non-positive spotify timeout must be rejected")

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("spotify.client_id", "client-only")
	_, err = Load(configViper)
	require.Error(t, err, "partial spotify credentials must be rejected")

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("spotify.client_id", "client")
	configViper.Set("spotify.client_secret", "secret")
	_, err = Load(configViper)
	require.Error(t, err, "missing redirect uri must be rejected")
}
