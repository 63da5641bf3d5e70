package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"unread-service/internal/logger"
	"unread-service/internal/repositories"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.Unauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.Forbidden):
		return http.StatusForbidden
	case errors.Is(err, errors.NotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrChatNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Server-side failures are logged
// and replaced by fallback so internals do not leak.
func respondError(c *gin.Context, log *logger.Logger, err error, fallback string) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error(fallback,
			zap.String("route", c.FullPath()),
			zap.String("request_id", requestIDFromContext(c)),
			zap.Error(err),
		)
		message = fallback
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
	}
	c.JSON(status, gin.H{"error": message})
}
