package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/config"
	"github.com/HugoGarrigues/MusicSwipe/internal/database"
	"github.com/HugoGarrigues/MusicSwipe/internal/identity"
	"github.com/HugoGarrigues/MusicSwipe/internal/logging"
	"github.com/HugoGarrigues/MusicSwipe/internal/metrics"
	"github.com/HugoGarrigues/MusicSwipe/internal/ratings"
	"github.com/HugoGarrigues/MusicSwipe/internal/server"
	"github.com/HugoGarrigues/MusicSwipe/internal/spotify"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "musicswipe-api",
		Short: "MusicSwipe backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.Duration("session-ttl", defaults.GetDuration("auth.session_ttl"), "Session token lifetime")
	flags.String("spotify-client-id", "", "Spotify application client ID")
	flags.String("spotify-client-secret", "", "Spotify application client secret")
	flags.String("spotify-redirect-uri", "", "Spotify OAuth redirect URI")
	flags.Bool("metrics", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")
	flags.StringSlice("cors-allowed-origins", defaults.GetStringSlice("cors.allowed_origins"), "Allowed CORS origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.session_ttl", "session-ttl")
	bindFlag(cmd, "spotify.client_id", "spotify-client-id")
	bindFlag(cmd, "spotify.client_secret", "spotify-client-secret")
	bindFlag(cmd, "spotify.redirect_uri", "spotify-redirect-uri")
	bindFlag(cmd, "metrics.enabled", "metrics")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recorder := metrics.New(appConfig.MetricsEnabled)
	var metricsHandler http.Handler
	if prometheusMetrics, ok := recorder.(*metrics.Metrics); ok {
		metricsHandler = prometheusMetrics.Handler()
	}

	sessions, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.SessionIssuer,
		Audience:      appConfig.SessionAudience,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   users.NewPasswordHasher(0),
		Logger:   logger.Named("users"),
	})
	if err != nil {
		return err
	}

	ratingsService, err := ratings.NewService(ratings.ServiceConfig{
		Database: db,
		Logger:   logger.Named("ratings"),
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Sessions:       sessions,
		Users:          usersService,
		Ratings:        ratingsService,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}

	if appConfig.Spotify.Configured() {
		spotifyClient, err := spotify.NewClient(spotify.Config{
			ClientID:     appConfig.Spotify.ClientID,
			ClientSecret: appConfig.Spotify.ClientSecret,
			RedirectURI:  appConfig.Spotify.RedirectURI,
			AccountsURL:  appConfig.Spotify.AccountsURL,
			APIURL:       appConfig.Spotify.APIURL,
			HTTPClient:   &http.Client{Timeout: appConfig.Spotify.HTTPTimeout},
			Metrics:      recorder,
			Logger:       logger.Named("spotify"),
		})
		if err != nil {
			return err
		}
		linker, err := identity.NewLinker(identity.LinkerConfig{
			Database: db,
			Provider: spotifyClient,
			Sessions: sessions,
			Metrics:  recorder,
			Logger:   logger.Named("identity"),
		})
		if err != nil {
			return err
		}
		recent, err := tracks.NewRecentTracks(tracks.RecentConfig{
			Database: db,
			Tokens:   linker,
			History:  spotifyClient,
			Logger:   logger.Named("tracks"),
		})
		if err != nil {
			return err
		}
		deps.Identity = linker
		deps.RecentTracks = recent
	} else {
		logger.Warn("spotify credentials not configured; spotify routes disabled")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
