package server

import (
	"strconv"

	"github.com/HugoGarrigues/MusicSwipe/internal/apperror"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func payloadFor(err error) errorPayload {
	return errorPayload{Error: apperror.Code(err), Message: apperror.Message(err)}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperror.HTTPStatus(err), payloadFor(err))
}

// respondError renders err and logs it when it is not a classified client error.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status := apperror.HTTPStatus(err)
	if status >= 500 {
		h.logger.Error(operation+" failed", zap.Error(err), zap.String("request_id", requestIDFrom(c)))
	}
	c.JSON(status, payloadFor(err))
}

func invalidRequest(message string) error {
	return apperror.Validation("invalid_request", message)
}

func parseID(c *gin.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		return 0, apperror.Validation("invalid_id", name+" must be a positive integer")
	}
	return uint(value), nil
}
