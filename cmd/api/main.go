package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"alfredoptarigan/resume-optimizer/internal/cache"
	"alfredoptarigan/resume-optimizer/internal/config"
	"alfredoptarigan/resume-optimizer/internal/handlers"
	"alfredoptarigan/resume-optimizer/internal/logger"
	"alfredoptarigan/resume-optimizer/internal/pipeline"
	"alfredoptarigan/resume-optimizer/internal/repositories"
	"alfredoptarigan/resume-optimizer/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	appLog, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("❌ Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()
	appLog.Info("✅ Config loaded successfully", "env", cfg.Server.Env)

	// Initialize database
	db, err := config.InitDatabase(cfg, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to initialize database", "error", err)
	}

	docRepo := repositories.NewDocumentRepository(db, appLog)
	appLog.Info("✅ Repositories initialized successfully")

	ctx := context.Background()

	partials, err := newPartialCache(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to initialize partial result cache", "error", err)
	}

	// Initialize Gemini AI
	geminiService, err := services.NewGeminiService(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.EmbeddingModel, appLog)
	if err != nil {
		appLog.Fatal("❌ Failed to initialize Gemini AI", "error", err)
	}
	appLog.Info("✅ Gemini AI initialized successfully", "model", cfg.Gemini.Model)

	// Guidance retrieval is optional; the analyze stage runs without it.
	var guidance services.GuidanceRetriever
	guidanceStore, err := services.NewQdrantGuidanceStore(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, appLog)
	if err != nil {
		appLog.Warn("⚠️  Qdrant unavailable, continuing without ATS guidance", "error", err)
	} else if err := guidanceStore.InitCollection(ctx); err != nil {
		appLog.Warn("⚠️  Failed to initialize Qdrant collection, continuing without ATS guidance", "error", err)
	} else {
		guidance = services.NewGuidanceRetriever(geminiService, guidanceStore, 3)
		appLog.Info("✅ Qdrant initialized successfully", "collection", cfg.Qdrant.Collection)
	}

	validator, err := services.NewStageValidator()
	if err != nil {
		appLog.Fatal("❌ Failed to compile stage schemas", "error", err)
	}

	worker := services.NewWorker(partials, cfg.Cache.SweepInterval, appLog)
	worker.Start(ctx)

	stall := pipeline.StallPolicy{
		HardTimeout: cfg.Pipeline.HardTimeout,
		StaleAfter:  cfg.Pipeline.StaleAfter,
	}
	optimizer := services.NewOptimizerService(
		docRepo,
		partials,
		geminiService,
		guidance,
		validator,
		worker,
		services.OptimizerConfig{
			Retry: pipeline.RetryPolicy{
				MaxAttempts:  cfg.Retry.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				JitterFrac:   pipeline.DefaultRetryPolicy().JitterFrac,
			},
			Stall:          stall,
			CallTimeout:    cfg.Pipeline.CallTimeout,
			MaxPromptChars: cfg.Upload.MaxPromptChars,
		},
		appLog,
	)
	status := services.NewStatusService(docRepo, partials, optimizer, stall, nil, appLog)
	appLog.Info("✅ Services initialized successfully")

	// Initialize Handlers
	uploadHandler := handlers.NewUploadHandler(docRepo, services.NewTextExtractor(), cfg.Upload.MaxFileSize, appLog)
	optimizeHandler := handlers.NewOptimizeHandler(docRepo, optimizer, appLog)
	statusHandler := handlers.NewStatusHandler(status, appLog)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "AI Resume Optimizer API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BodyLimit:    int(cfg.Upload.MaxFileSize) + 1024*1024,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Routes
	api := app.Group("/api/v1")
	api.Post("/documents", uploadHandler.HandleUpload)
	api.Post("/documents/:id/optimize", optimizeHandler.HandleOptimize)
	api.Get("/documents/:id/status", statusHandler.HandleGetStatus)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "AI Resume Optimizer API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/documents",
				"POST /api/v1/documents/:id/optimize",
				"GET /api/v1/documents/:id/status",
				"GET /health",
			},
		})
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		appLog.Info("🛑 Shutting down server...")
		if err := app.Shutdown(); err != nil {
			appLog.Error("❌ Server forced to shutdown", "error", err)
		}
		// In-flight runs stay marked as processing and are finalized by stall detection.
		worker.Stop()
	}()

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	appLog.Info("🚀 Server starting", "addr", addr)

	if err := app.Listen(addr); err != nil {
		appLog.Fatal("❌ Failed to start server", "error", err)
	}
}

func newPartialCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (cache.Cache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("✅ Redis partial result cache connected", "addr", cfg.Redis.Addr)
		return cache.NewRedisCache(client, cfg.Cache.Expiration), nil
	case "", "memory":
		log.Info("✅ In-memory partial result cache initialized", "expiration", cfg.Cache.Expiration.String())
		return cache.NewMemoryCache(cache.WithExpiration(cfg.Cache.Expiration)), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}
