// @title           Flower Classifier Backend API
// @version         1.0.0
// @description     Backend API for identifying flowers from photos. Uploads are classified by an external model, each label gets a cached botanical monograph, and users can ask follow-up questions and follow their upload history live.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flower-classifier-backend/internal/classifier"
	"flower-classifier-backend/internal/config"
	"flower-classifier-backend/internal/database"
	"flower-classifier-backend/internal/gemini"
	"flower-classifier-backend/internal/handlers"
	"flower-classifier-backend/internal/metrics"
	"flower-classifier-backend/internal/middleware"
	"flower-classifier-backend/internal/services"
	"flower-classifier-backend/internal/supabase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrator, err := database.NewMigrator(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	err = migrator.Run(ctx)
	migrator.Close()
	if err != nil {
		return err
	}
	logger.Info("Migrations completed successfully")

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, cfg.SupabaseStorageBucket)
	if err != nil {
		return err
	}

	realtimeClient := supabase.NewRealtimeClient(logger)
	if err := realtimeClient.Listen(ctx, cfg.DatabaseURL); err != nil {
		return err
	}
	defer realtimeClient.Close()

	resolver, err := newTokenResolver(cfg)
	if err != nil {
		return err
	}

	httpClient := &http.Client{}
	predictor := classifier.NewClient(cfg.PredictionAPIURL, httpClient)
	var fallback services.Predictor
	if cfg.PredictionFallbackURL != "" {
		fallback = classifier.NewClient(cfg.PredictionFallbackURL, httpClient)
	}
	checkClassifier(ctx, logger, predictor, cfg.PredictionTimeout)

	synth := gemini.NewClient(cfg.GeminiAPIBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, httpClient)

	knowledge := services.NewKnowledgeService(dbClient, synth, logger, services.KnowledgeOptions{
		CacheTTL:         cfg.KnowledgeCacheTTL,
		SynthesisTimeout: cfg.SynthesisTimeout,
		DatabaseTimeout:  cfg.DatabaseTimeout,
	})
	uploads := services.NewUploadService(storageClient, dbClient, predictor, fallback, knowledge, logger, services.UploadOptions{
		StorageTimeout:    cfg.StorageTimeout,
		PredictionTimeout: cfg.PredictionTimeout,
		DatabaseTimeout:   cfg.DatabaseTimeout,
	})
	history := services.NewHistoryService(dbClient, storageClient, realtimeClient, cfg.DatabaseTimeout, logger)

	uploadHandler := handlers.NewUploadHandler(uploads, cfg.MaxUploadBytes)
	flowerHandler := handlers.NewFlowerHandler(knowledge)
	historyHandler := handlers.NewHistoryHandler(history, 30*time.Second)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())

	// Health and metrics (no auth)
	router.GET("/health", handlers.HealthHandler)
	router.GET("/ready", handlers.ReadyHandler(dbClient, cfg.DatabaseTimeout))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(resolver))

	api.POST("/uploads", uploadHandler.Upload)
	api.GET("/uploads/:upload_id", uploadHandler.GetUpload)
	api.POST("/classify", uploadHandler.Classify)

	api.POST("/questions", flowerHandler.AskQuestion)
	api.GET("/flowers/:name", flowerHandler.GetFlower)

	api.GET("/history", historyHandler.GetHistory)
	api.GET("/history/stream", historyHandler.StreamHistory)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "base_url", cfg.BaseURL, "auth_mode", cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newTokenResolver(cfg *config.Config) (middleware.TokenResolver, error) {
	if cfg.AuthMode == config.AuthModeGoTrue {
		client, err := supabase.NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return middleware.NewJWTResolver(cfg.SupabaseJWTSecret), nil
}

// checkClassifier logs whether the prediction service has its model loaded.
// An unreachable classifier does not stop startup; uploads fail until it is back.
func checkClassifier(ctx context.Context, logger *slog.Logger, c *classifier.Client, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		logger.Warn("Prediction service unreachable", "error", err)
		return
	}
	logger.Info("Prediction service ready", "status", health.Status, "model_loaded", health.ModelLoaded)
}
