package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/yungbote/microlearn-backend/internal/http/handlers"
	httpMW "github.com/yungbote/microlearn-backend/internal/http/middleware"
)

type RouterConfig struct {
	AuthMiddleware *httpMW.AuthMiddleware

	LessonHandler   *httpH.LessonHandler
	AttemptHandler  *httpH.AttemptHandler
	FeedbackHandler *httpH.FeedbackHandler
	PathHandler     *httpH.PathHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Lesson delivery
		if cfg.LessonHandler != nil {
			api.GET("/lesson", cfg.LessonHandler.GetNextLesson)
			api.POST("/generate-pending", cfg.LessonHandler.GeneratePending)
		}

		// Attempts
		if cfg.AttemptHandler != nil {
			api.POST("/attempts", cfg.AttemptHandler.RecordAttempt)
		}

		// Feedback
		if cfg.FeedbackHandler != nil {
			api.POST("/lessons/:id/feedback", cfg.FeedbackHandler.SubmitFeedback)
		}

		// Paths
		if cfg.PathHandler != nil {
			api.GET("/path", cfg.PathHandler.GetPath)
			api.GET("/paths", cfg.PathHandler.ListPaths)
		}
	}

	return r
}
