package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/microlearn-backend/internal/platform/ctxutil"
	"github.com/yungbote/microlearn-backend/internal/services"
)

type FeedbackHandler struct {
	writer services.ProgressWriterService
}

func NewFeedbackHandler(writer services.ProgressWriterService) *FeedbackHandler {
	return &FeedbackHandler{writer: writer}
}

// POST /api/lessons/:id/feedback
func (h *FeedbackHandler) SubmitFeedback(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)
	lessonID := c.Param("id")

	var body struct {
		Subject       string `json:"subject"`
		Action        string `json:"action"`
		ToneSignature string `json:"toneSignature"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback payload"})
		return
	}
	subject := strings.TrimSpace(body.Subject)
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	if action := strings.TrimSpace(body.Action); action != "" {
		if err := h.writer.RecordFeedback(ctx, userID, subject, lessonID, action); err != nil {
			respondServiceError(c, err)
			return
		}
	}
	if tone := strings.TrimSpace(body.ToneSignature); tone != "" {
		if err := h.writer.SetToneSignature(ctx, userID, subject, tone); err != nil {
			respondServiceError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"recorded": true})
}
