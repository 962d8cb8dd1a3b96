package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

type contextKey struct{ name string }

var (
	callerContextKey    = contextKey{name: "caller"}
	requestIDContextKey = contextKey{name: "request_id"}
)

// callerFrom returns the identity stored by authorizeRequest.
func callerFrom(c *gin.Context) (auth.AuthenticatedContext, bool) {
	value, ok := c.Get(callerContextKey.name)
	if !ok {
		return auth.AuthenticatedContext{}, false
	}
	caller, ok := value.(auth.AuthenticatedContext)
	return caller, ok
}

func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDContextKey.name)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey.name, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", requestIDFrom(c)),
		}
		if caller, ok := callerFrom(c); ok {
			fields = append(fields, zap.Uint("user_id", caller.UserID))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request completed", fields...)
			return
		}
		logger.Debug("request completed", fields...)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, auth.TokenType+" ") {
		abortWithError(c, apperror.Unauthorized("missing_token", "authorization header missing or invalid", nil))
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, auth.TokenType+" "))
	caller, err := h.sessions.Validate(token)
	if err != nil {
		if apperror.Code(err) == "token_expired" {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, err)
		return
	}
	c.Set(callerContextKey.name, caller)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok || !caller.IsAdmin {
		abortWithError(c, apperror.Forbidden("admin_required", "administrator privileges required"))
		return
	}
	c.Next()
}

func (h *httpHandler) requireSpotify(c *gin.Context) {
	if h.identity == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorPayload{
			Error:   "spotify_not_configured",
			Message: "spotify integration is not configured",
		})
		return
	}
	c.Next()
}
