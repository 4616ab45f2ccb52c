package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tygr/ragserve/internal/cache"
	"github.com/tygr/ragserve/internal/chat"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/database"
	"github.com/tygr/ragserve/internal/embedding"
	"github.com/tygr/ragserve/internal/filestore"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/monitoring"
	"github.com/tygr/ragserve/internal/querylog"
	"github.com/tygr/ragserve/internal/reconcile"
	"github.com/tygr/ragserve/internal/server"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("default_model", cfg.Gemini.DefaultModel).
		Msg("Starting ragserve API server")

	// Initialize database connection
	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Prometheus metrics
	monitoring.Init()

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	contentCache, err := newContentCache(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize content cache")
	}

	embedder := embedding.NewGeminiProvider(&cfg.Gemini)
	generator := generation.NewClient(&cfg.Gemini)
	files := filestore.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Timeout)

	indexSvc := index.NewService(db.Pool, embedder)
	querylogSvc := querylog.NewService(db.Pool, nil)
	reconciler := reconcile.New(indexSvc, contentCache)
	chatSvc := chat.NewService(indexSvc, generator, querylogSvc, chat.Options{
		DefaultModel:   cfg.Gemini.DefaultModel,
		RetrievalTopK:  cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.Threshold,
	})

	srv := server.NewAPIServer(cfg, server.Deps{
		Chat:         chatSvc,
		Index:        indexSvc,
		Catalog:      generator,
		Files:        files,
		Stats:        querylogSvc,
		Reconciler:   reconciler,
		ContentCache: contentCache,
		DBHealth:     db.Health,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func newContentCache(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedisStore(cfg.Redis.URL, cfg.Cache.KeyPrefix)
	default:
		return cache.NewDirStore(cfg.Cache.Dir)
	}
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
