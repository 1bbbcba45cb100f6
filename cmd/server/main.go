package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/videochat/videochat-backend/internal/api"
	"github.com/videochat/videochat-backend/internal/config"
	"github.com/videochat/videochat-backend/internal/db"
	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/logging"
	"github.com/videochat/videochat-backend/internal/media"
	"github.com/videochat/videochat-backend/internal/pipeline"
	"github.com/videochat/videochat-backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// Missing .env is fine; the environment may be set directly.
	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.UploadsDir(), cfg.FramesDir(), cfg.ThumbnailsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel(), cfg.LogFormat())
	logger.Info("starting videochat backend",
		"version", config.Version,
		"port", cfg.Port(),
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	// Drop rows whose artifacts vanished and artifacts nothing
	// references before serving anything.
	reconciler := store.NewReconciler(repo, cfg.DataDir(), logger)
	report, err := reconciler.Sweep(context.Background())
	if err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	} else if report.DanglingFrames+report.OrphanedArtifacts+report.VideosReset > 0 {
		logger.Info("startup reconciliation",
			"dangling_frames", report.DanglingFrames,
			"orphaned_artifacts", report.OrphanedArtifacts,
			"videos_reset", report.VideosReset,
		)
	}

	var indexer gemini.Service
	if key := cfg.GeminiAPIKey(); key != "" {
		client, err := gemini.NewClient(context.Background(), key, cfg.GeminiModel(), cfg.MaxFramesPerCall(), logger)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}
		defer client.Close()
		indexer = client
		logger.Info("gemini enabled", "model", cfg.GeminiModel(), "api_key", logging.SanitizeToken(key))
	} else {
		indexer = gemini.NewStubService(logger)
		logger.Warn("GEMINI_API_KEY not set, chat and search run against the stub")
	}

	extractor := media.NewFFmpegExtractor(logger)
	pipe := pipeline.New(cfg, repo, extractor, indexer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := pipeline.NewRunner(pipe, repo, cfg.MaxConcurrent(), logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Config:    cfg,
		Repo:      repo,
		Pipeline:  pipe,
		Gemini:    indexer,
		Logger:    logger,
		StartTime: startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
