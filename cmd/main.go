package main

import (
	"context"
	"fmt"
	"os"
	"time"

	redisclients "github.com/yungbote/microlearn-backend/internal/clients/redis"
	"github.com/yungbote/microlearn-backend/internal/data/db"
	learningRepos "github.com/yungbote/microlearn-backend/internal/data/repos/learning"
	apphttp "github.com/yungbote/microlearn-backend/internal/http"
	httpH "github.com/yungbote/microlearn-backend/internal/http/handlers"
	httpMW "github.com/yungbote/microlearn-backend/internal/http/middleware"
	"github.com/yungbote/microlearn-backend/internal/platform/envutil"
	"github.com/yungbote/microlearn-backend/internal/platform/logger"
	"github.com/yungbote/microlearn-backend/internal/platform/openai"
	"github.com/yungbote/microlearn-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	if err := db.AutoMigrateAll(thePG); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}

	// Redis
	log.Info("Setting up Redis from main...")
	rdb, err := redisclients.NewClient(log)
	if err != nil {
		log.Error("Redis init failed", "error", err)
		os.Exit(1)
	}
	lockClient := redisclients.NewLockClient(log, rdb)
	pendingQueue := redisclients.NewPendingQueue(log, rdb)

	// Repos
	log.Info("Setting up Repos from main...")
	pathStateRepo := learningRepos.NewPathStateRepo(thePG, log)
	progressRepo := learningRepos.NewProgressRepo(thePG, log)
	attemptRepo := learningRepos.NewAttemptRepo(thePG, log)
	lessonCacheRepo := learningRepos.NewLessonCacheRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}
	curriculumService, err := services.NewCurriculumService(log)
	if err != nil {
		log.Error("Could not load curriculum catalog", "error", err)
		os.Exit(1)
	}

	metricsService := services.NewProgressMetricsService(thePG, log, attemptRepo, progressRepo)
	assembler := services.NewContextAssembler(log)
	dedupService := services.NewDedupService(log, openaiClient)
	generatorService := services.NewGeneratorService(log, openaiClient)
	pathStateService := services.NewPathStateService(log, pathStateRepo, curriculumService, generatorService, lockClient)
	cacheService := services.NewLessonCacheService(log, lessonCacheRepo)
	pendingService := services.NewPendingService(
		log,
		pendingQueue,
		pathStateService,
		metricsService,
		progressRepo,
		curriculumService,
		assembler,
		generatorService,
		dedupService,
	)
	pendingService.StartWorker(context.Background())
	cacheService.StartJanitor(context.Background(), time.Hour)
	writerService := services.NewProgressWriterService(log, pathStateRepo, progressRepo, pathStateService)
	deliveryService := services.NewDeliveryService(
		log,
		pathStateService,
		metricsService,
		progressRepo,
		curriculumService,
		assembler,
		cacheService,
		pendingService,
		generatorService,
		dedupService,
		writerService,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	lessonHandler := httpH.NewLessonHandler(deliveryService, pendingService)
	attemptHandler := httpH.NewAttemptHandler(metricsService)
	feedbackHandler := httpH.NewFeedbackHandler(writerService)
	pathHandler := httpH.NewPathHandler(pathStateService)
	healthHandler := httpH.NewHealthHandler()

	// Middleware
	authMiddleware := httpMW.NewAuthMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	server := apphttp.NewServer(apphttp.RouterConfig{
		AuthMiddleware:  authMiddleware,
		LessonHandler:   lessonHandler,
		AttemptHandler:  attemptHandler,
		FeedbackHandler: feedbackHandler,
		PathHandler:     pathHandler,
		HealthHandler:   healthHandler,
	})

	port := envutil.Str("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
