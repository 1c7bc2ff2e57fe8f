package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/microlearn-backend/internal/http/response"
	"github.com/yungbote/microlearn-backend/internal/platform/apierr"
	"github.com/yungbote/microlearn-backend/internal/services"
)

const generatingRetryAfterMs = 2500

// respondServiceError maps engine sentinels onto the wire taxonomy. The
// generating signal is a 202 with a retry hint, not an error envelope.
// Malformed generator output gets the same treatment: transient, and
// usually self-corrects on retry.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrGenerating), errors.Is(err, services.ErrInvalidFormat):
		c.Header("Retry-After", strconv.Itoa(generatingRetryAfterMs/1000))
		c.JSON(http.StatusAccepted, gin.H{
			"status":       "generating",
			"retryAfterMs": generatingRetryAfterMs,
		})
	case errors.Is(err, services.ErrNoSubject):
		response.RespondError(c, http.StatusBadRequest, "no_subject", err)
	case errors.Is(err, services.ErrNotReady):
		response.RespondError(c, http.StatusConflict, "not_ready", err)
	case errors.Is(err, services.ErrUsageLimit):
		response.RespondError(c, http.StatusForbidden, "usage_limit_exceeded", err)
	default:
		ae := apierr.From(err)
		response.RespondError(c, ae.Status, ae.Code, err)
	}
}
