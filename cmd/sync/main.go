// Command sync reconciles the document index against the Gemini file list.
// Files already indexed are left alone; files with cached content are
// indexed; files without cached content are reported.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tygr/ragserve/internal/cache"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/database"
	"github.com/tygr/ragserve/internal/embedding"
	"github.com/tygr/ragserve/internal/filestore"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/reconcile"
)

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	db, err := database.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	contentCache, err := newContentCache(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize content cache")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	files := filestore.NewClient(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Timeout)
	listed, err := files.List(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list files from store")
	}
	log.Info().Int("files", len(listed)).Msg("File store listed")

	embedder := embedding.NewGeminiProvider(&cfg.Gemini)
	indexSvc := index.NewService(db.Pool, embedder)

	report, err := reconcile.New(indexSvc, contentCache).Reconcile(ctx, listed)
	if err != nil {
		log.Fatal().Err(err).Msg("Reconciliation aborted")
	}

	log.Info().
		Int("synced", report.Synced).
		Int("already_indexed", report.AlreadyIndexed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Sync finished")

	for _, name := range report.MissingContent {
		log.Warn().Str("file", name).Msg("No cached content; re-upload to index this file")
	}

	if report.Failed > 0 {
		os.Exit(1)
	}
}

func newContentCache(cfg *config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedisStore(cfg.Redis.URL, cfg.Cache.KeyPrefix)
	default:
		return cache.NewDirStore(cfg.Cache.Dir)
	}
}
