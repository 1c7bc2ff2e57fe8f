package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/microlearn-backend/internal/platform/ctxutil"
	"github.com/yungbote/microlearn-backend/internal/services"
)

type PathHandler struct {
	pathState services.PathStateService
}

func NewPathHandler(pathState services.PathStateService) *PathHandler {
	return &PathHandler{pathState: pathState}
}

// GET /api/path?subject=
func (h *PathHandler) GetPath(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)

	subject := strings.TrimSpace(c.Query("subject"))
	if subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject is required"})
		return
	}

	row, path, err := h.pathState.Load(ctx, userID, subject)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if row == nil || path == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no learning path for subject"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject":    row.Subject,
		"path":       path,
		"cursor":     row.Cursor(),
		"completion": row.DecodeCompletion(),
		"nextTopic":  row.NextTopic,
	})
}

// GET /api/paths
func (h *PathHandler) ListPaths(c *gin.Context) {
	ctx := c.Request.Context()
	userID := ctxutil.UserID(ctx)

	rows, err := h.pathState.ListByUser(ctx, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"subject":   row.Subject,
			"cursor":    row.Cursor(),
			"nextTopic": row.NextTopic,
			"updatedAt": row.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"paths": out})
}
