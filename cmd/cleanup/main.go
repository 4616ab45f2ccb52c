// Command cleanup removes query log entries older than the retention
// window. Intended to run from cron.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/database"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/querylog"
)

func main() {
	var (
		retention time.Duration
		dryRun    bool
	)
	flag.DurationVar(&retention, "retention", 90*24*time.Hour, "Keep entries newer than this")
	flag.BoolVar(&dryRun, "dry-run", false, "Report what would be removed without deleting")
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if dryRun {
		cutoff := time.Now().Add(-retention)
		var count int64
		err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM query_logs WHERE created_at < $1`, cutoff).Scan(&count)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to count old entries")
		}
		log.Info().
			Int64("would_remove", count).
			Time("cutoff", cutoff).
			Msg("Dry run, nothing deleted")
		return
	}

	removed, err := querylog.NewService(db.Pool, nil).CleanupOlderThan(ctx, retention)
	if err != nil {
		log.Fatal().Err(err).Msg("Cleanup failed")
	}

	log.Info().
		Int64("removed", removed).
		Dur("retention", retention).
		Msg("Query log cleanup finished")
}
