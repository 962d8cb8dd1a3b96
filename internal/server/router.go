package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/identity"
	"github.com/HugoGarrigues/MusicSwipe/internal/metrics"
	"github.com/HugoGarrigues/MusicSwipe/internal/ratings"
	"github.com/HugoGarrigues/MusicSwipe/internal/tracks"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingRatingsService = errors.New("ratings service dependency required")
)

// SessionManager issues and validates bearer session tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID uint, isAdmin bool) (string, int64, error)
	Validate(token string) (auth.AuthenticatedContext, error)
}

// IdentityLinker runs the Spotify login, link and unlink flows.
type IdentityLinker interface {
	AuthorizationURL() string
	Login(ctx context.Context, code string) (identity.Session, error)
	Link(ctx context.Context, caller auth.AuthenticatedContext, code string) error
	Unlink(ctx context.Context, caller auth.AuthenticatedContext) error
}

// RecentTrackLister imports and lists a user's recently played tracks.
type RecentTrackLister interface {
	List(ctx context.Context, userID uint, limit int) ([]tracks.Track, error)
}

// Dependencies wires the HTTP layer. Identity and RecentTracks are nil when
// Spotify credentials are not configured; their routes then answer 503.
type Dependencies struct {
	Sessions       SessionManager
	Identity       IdentityLinker
	Users          *users.Service
	Ratings        *ratings.Service
	RecentTracks   RecentTrackLister
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Ratings == nil {
		return nil, errMissingRatingsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NewNoopMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))
	router.Use(metrics.HTTPMetricsMiddleware(recorder))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions: deps.Sessions,
		identity: deps.Identity,
		users:    deps.Users,
		ratings:  deps.Ratings,
		recent:   deps.RecentTracks,
		metrics:  recorder,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	router.GET("/auth/spotify/auth-url", handler.requireSpotify, handler.handleAuthorizationURL)
	router.POST("/auth/spotify/auth", handler.requireSpotify, handler.handleSpotifyLogin)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handlePasswordLogin)
	router.GET("/tracks/:id/rating", handler.handleTrackRating)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/spotify/link-url", handler.requireSpotify, handler.handleAuthorizationURL)
	protected.POST("/auth/spotify/link", handler.requireSpotify, handler.handleSpotifyLink)
	protected.POST("/auth/spotify/unlink", handler.requireSpotify, handler.handleSpotifyUnlink)
	protected.POST("/auth/password", handler.handleSetPassword)
	protected.GET("/auth/me", handler.handleMe)
	protected.GET("/users/me/recent-tracks", handler.requireSpotify, handler.handleRecentTracks)
	protected.POST("/ratings", handler.handleRate)
	protected.POST("/ratings/spotify", handler.handleRateBySpotify)
	protected.GET("/ratings", handler.handleListRatings)
	protected.GET("/ratings/:id", handler.handleGetRating)
	protected.PATCH("/ratings/:id", handler.handleUpdateRating)
	protected.DELETE("/ratings/:id", handler.handleRemoveRating)
	protected.GET("/likes", handler.handleListLikes)
	protected.POST("/likes/:trackId", handler.handleLike)
	protected.DELETE("/likes/:trackId", handler.handleUnlike)
	protected.GET("/likes/:trackId", handler.handleLikeStatus)
	protected.DELETE("/admin/users/:id", handler.requireAdmin, handler.handleDeleteUser)

	return router, nil
}

type httpHandler struct {
	sessions SessionManager
	identity IdentityLinker
	users    *users.Service
	ratings  *ratings.Service
	recent   RecentTrackLister
	metrics  metrics.Recorder
	logger   *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			origins = nil
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
		config.AllowCredentials = true
	}
	return cors.New(config)
}
