package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/microlearn-backend/internal/platform/ctxutil"
	"github.com/yungbote/microlearn-backend/internal/services"
)

type LessonHandler struct {
	delivery services.DeliveryService
	pending  services.PendingService
}

func NewLessonHandler(delivery services.DeliveryService, pending services.PendingService) *LessonHandler {
	return &LessonHandler{delivery: delivery, pending: pending}
}

// GET /api/lesson?subject=&prefetch=0..3
func (h *LessonHandler) GetNextLesson(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)

	prefetch, _ := strconv.Atoi(c.Query("prefetch"))
	if prefetch < 0 {
		prefetch = 0
	}
	if prefetch > services.MaxPrefetch {
		prefetch = services.MaxPrefetch
	}

	res, err := h.delivery.NextLesson(ctx, userID, c.Query("subject"), prefetch)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/generate-pending
func (h *LessonHandler) GeneratePending(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)

	var body struct {
		Subject    string `json:"subject"`
		TopicLabel string `json:"topicLabel"`
		Count      int    `json:"count"`
	}
	_ = c.ShouldBindJSON(&body)
	subject := strings.TrimSpace(body.Subject)
	if subject == "" {
		subject = strings.TrimSpace(c.Query("subject"))
	}
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	res, err := h.pending.FillNow(ctx, userID, subject, strings.TrimSpace(body.TopicLabel), body.Count)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
