package server

import (
	"net/http"
	"strings"

	"github.com/HugoGarrigues/MusicSwipe/internal/auth"
	"github.com/HugoGarrigues/MusicSwipe/internal/users"
	"github.com/gin-gonic/gin"
)

type authURLPayload struct {
	AuthURL string `json:"authUrl"`
}

type codeRequestPayload struct {
	Code string `json:"code"`
}

type sessionPayload struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type registerRequestPayload struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequestPayload struct {
	Password string `json:"password"`
}

type mePayload struct {
	ID          uint   `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	HasPassword bool   `json:"hasPassword"`
}

func (h *httpHandler) handleAuthorizationURL(c *gin.Context) {
	c.JSON(http.StatusOK, authURLPayload{AuthURL: h.identity.AuthorizationURL()})
}

func (h *httpHandler) handleSpotifyLogin(c *gin.Context) {
	code, ok := h.bindCode(c)
	if !ok {
		return
	}
	session, err := h.identity.Login(c.Request.Context(), code)
	if err != nil {
		h.respondError(c, "spotify login", err)
		return
	}
	c.JSON(http.StatusOK, sessionPayload{
		AccessToken: session.AccessToken,
		ExpiresIn:   session.ExpiresIn,
		TokenType:   session.TokenType,
	})
}

func (h *httpHandler) handleSpotifyLink(c *gin.Context) {
	caller, _ := callerFrom(c)
	code, ok := h.bindCode(c)
	if !ok {
		return
	}
	if err := h.identity.Link(c.Request.Context(), caller, code); err != nil {
		h.respondError(c, "spotify link", err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Spotify account linked"})
}

func (h *httpHandler) handleSpotifyUnlink(c *gin.Context) {
	caller, _ := callerFrom(c)
	if err := h.identity.Unlink(c.Request.Context(), caller); err != nil {
		h.respondError(c, "spotify unlink", err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Spotify account unlinked"})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, "register", invalidRequest("request body must be a JSON object"))
		return
	}
	user, err := h.users.Register(c.Request.Context(), request.Email, request.Username, request.Password)
	if err != nil {
		h.respondError(c, "register", err)
		return
	}
	h.respondSession(c, http.StatusCreated, user, "password")
}

func (h *httpHandler) handlePasswordLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		h.respondError(c, "login", invalidRequest("email and password are required"))
		return
	}
	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, "login", err)
		return
	}
	h.respondSession(c, http.StatusOK, user, "password")
}

func (h *httpHandler) handleSetPassword(c *gin.Context) {
	caller, _ := callerFrom(c)
	var request passwordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, "set password", invalidRequest("password is required"))
		return
	}
	if err := h.users.SetPassword(c.Request.Context(), caller.UserID, request.Password); err != nil {
		h.respondError(c, "set password", err)
		return
	}
	c.JSON(http.StatusOK, messagePayload{Message: "Password updated"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	caller, _ := callerFrom(c)
	user, err := h.users.Get(c.Request.Context(), caller.UserID)
	if err != nil {
		h.respondError(c, "load profile", err)
		return
	}
	c.JSON(http.StatusOK, mePayload{
		ID:          user.ID,
		Email:       user.Email,
		Username:    user.Username,
		AvatarURL:   user.AvatarURL,
		IsAdmin:     user.IsAdmin,
		HasPassword: user.HasPassword(),
	})
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	userID, err := parseID(c, "id")
	if err != nil {
		h.respondError(c, "delete user", err)
		return
	}
	if err := h.users.Delete(c.Request.Context(), userID); err != nil {
		h.respondError(c, "delete user", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) bindCode(c *gin.Context) (string, bool) {
	var request codeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Code) == "" {
		h.respondError(c, "bind code", invalidRequest("code is required"))
		return "", false
	}
	return strings.TrimSpace(request.Code), true
}

func (h *httpHandler) respondSession(c *gin.Context, status int, user *users.User, method string) {
	token, expiresIn, err := h.sessions.Issue(c.Request.Context(), user.ID, user.IsAdmin)
	if err != nil {
		h.respondError(c, "issue session", err)
		return
	}
	h.metrics.RecordSessionIssued(method)
	c.JSON(status, sessionPayload{AccessToken: token, ExpiresIn: expiresIn, TokenType: auth.TokenType})
}
