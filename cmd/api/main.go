package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bimhub-api/config"
	"bimhub-api/internal/convert"
	"bimhub-api/internal/database"
	"bimhub-api/internal/handlers"
	"bimhub-api/internal/middleware"
	"bimhub-api/internal/pipeline"
	"bimhub-api/internal/repositories"
	"bimhub-api/pkg/memorydb"
	"bimhub-api/pkg/objectstore"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// Load .env file if present
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg := config.Load()
	logger := newLogger(cfg)

	ctx := context.Background()

	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Redis is optional: without it the status surface still works from the
	// in-memory registry, there is just no pub/sub channel.
	var redisClient *memorydb.RedisClient
	if cfg.Redis.URL != "" {
		redisClient, err = memorydb.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, status publishing disabled")
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info().Msg("redis client initialized")
		}
	}

	store, err := objectstore.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize object storage")
	}

	tempDir := cfg.Pipeline.TempDir
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "bimhub-uploads")
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", tempDir).Msg("failed to create temp dir")
	}

	repos := repositories.NewRepositories(db)
	converter := convert.NewIFCConverter(cfg.Pipeline.ConverterBin, logger)
	engine := pipeline.NewEngine(db, store, repos, logger)

	var publisher pipeline.StatusPublisher
	if redisClient != nil {
		publisher = pipeline.NewRedisPublisher(redisClient, cfg.MultiRetention(), logger)
	}

	svc := pipeline.NewService(converter, engine, publisher, pipeline.Options{
		MaxConcurrency:   cfg.MaxConcurrency(),
		TempDir:          tempDir,
		WatchdogInterval: cfg.WatchdogInterval(),
		MemCeilingBytes:  cfg.WatchdogCeilingBytes(),
		SingleRetention:  cfg.SingleRetention(),
		MultiRetention:   cfg.MultiRetention(),
	}, logger)
	svc.Start(ctx)
	defer svc.Stop()

	router := buildRouter(cfg, logger, svc, db, redisClient, repos, store, tempDir)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.App.Environment).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func buildRouter(cfg *config.Config, logger zerolog.Logger, svc *pipeline.Service, db *database.DB, redisClient *memorydb.RedisClient, repos *repositories.Repositories, store *objectstore.Client, tempDir string) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.ErrorMiddleware(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-User-ID", "X-Org-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	uploadHandler := handlers.NewUploadHandler(svc, tempDir, cfg.Pipeline.MaxUploadBytes)
	statusHandler := handlers.NewStatusHandler(svc, logger)
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	projectHandler := handlers.NewProjectHandler(repos, store)

	router.GET("/health", healthHandler.Check())

	api := router.Group("/api")
	{
		api.POST("/uploads", uploadHandler.Enqueue())
		api.GET("/uploads/:id", statusHandler.Get())
		api.GET("/uploads/:id/stream", statusHandler.Stream())
		api.GET("/projects/:id", projectHandler.Get())
		api.GET("/projects/:id/models/:modelId/file", projectHandler.DownloadModel())
	}

	return router
}
