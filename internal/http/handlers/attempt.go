package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/microlearn-backend/internal/domain/learning"
	"github.com/yungbote/microlearn-backend/internal/platform/ctxutil"
	"github.com/yungbote/microlearn-backend/internal/services"
)

type AttemptHandler struct {
	metrics services.ProgressMetricsService
}

func NewAttemptHandler(metrics services.ProgressMetricsService) *AttemptHandler {
	return &AttemptHandler{metrics: metrics}
}

// POST /api/attempts
func (h *AttemptHandler) RecordAttempt(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)

	var body struct {
		LessonID string `json:"lessonId"`
		Subject  string `json:"subject"`
		Correct  bool   `json:"correct"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt payload"})
		return
	}
	if strings.TrimSpace(body.LessonID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lessonId is required"})
		return
	}

	row := &types.AttemptRow{
		ID:        uuid.New(),
		UserID:    userID,
		Subject:   strings.TrimSpace(body.Subject),
		LessonID:  body.LessonID,
		Correct:   body.Correct,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.metrics.RecordAttempt(ctx, row); err != nil {
		respondServiceError(c, err)
		return
	}

	// The fresh snapshot reflects this attempt; handing it back saves the
	// client a round trip.
	snap, err := h.metrics.Snapshot(ctx, userID, row.Subject)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"recorded": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": true, "metrics": snap})
}
