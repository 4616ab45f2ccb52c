// Package reconcile brings the document index into agreement with the
// externally authoritative file list. The file store cannot serve content
// for files it already holds, so content comes from the local cache; files
// without cached content stay un-indexed and are reported, not failed.
package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/tygr/ragserve/internal/cache"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
)

// Indexer is the slice of the document index needed for reconciliation
type Indexer interface {
	Get(ctx context.Context, geminiFileName string) (*models.Document, error)
	Upsert(ctx context.Context, geminiFileName, displayName, content string, fileSize int) (*models.Document, error)
}

// Report summarizes one reconciliation run
type Report struct {
	// Synced is the number of newly indexed documents
	Synced int `json:"synced"`
	// AlreadyIndexed is the number of files skipped because the index
	// already holds them
	AlreadyIndexed int `json:"already_indexed"`
	// Skipped is the number of files left un-indexed for lack of cached
	// content
	Skipped int `json:"skipped"`
	// Failed is the number of files whose indexing errored
	Failed int `json:"failed"`
	// MissingContent lists the file keys that had no cached content
	MissingContent []string `json:"missing_content,omitempty"`
}

// Reconciler syncs the external file list into the document index
type Reconciler struct {
	indexer Indexer
	cache   cache.Lookup
	logger  zerolog.Logger
}

// New creates a reconciler over the given index and content cache
func New(indexer Indexer, contentCache cache.Lookup) *Reconciler {
	return &Reconciler{
		indexer: indexer,
		cache:   contentCache,
		logger:  logging.NewLogger("reconcile"),
	}
}

// Reconcile walks the external file list and indexes every file that is not
// yet indexed and has cached content. Files already indexed are never
// touched, so running Reconcile twice over an unchanged list syncs nothing
// the second time. Per-file failures are logged and counted; the batch
// always runs to completion. Only context cancellation aborts the run.
func (r *Reconciler) Reconcile(ctx context.Context, files []models.FileRef) (Report, error) {
	var report Report

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if _, err := r.indexer.Get(ctx, file.Name); err == nil {
			report.AlreadyIndexed++
			continue
		} else if !errors.Is(err, index.ErrNotFound) {
			report.Failed++
			r.logger.Error().Err(err).Str("file", file.Name).Msg("Index lookup failed")
			continue
		}

		content, found, err := r.cache.Content(ctx, file.Name)
		if err != nil {
			report.Failed++
			r.logger.Error().Err(err).Str("file", file.Name).Msg("Cache read failed")
			continue
		}
		if !found {
			// The file store cannot return content for uploaded files, and
			// indexing metadata-only placeholders would poison similarity
			// search. Leave it un-indexed and report it.
			report.Skipped++
			report.MissingContent = append(report.MissingContent, file.Name)
			r.logger.Warn().
				Str("file", file.Name).
				Str("display_name", file.DisplayName).
				Msg("No cached content, file left un-indexed")
			continue
		}

		if _, err := r.indexer.Upsert(ctx, file.Name, file.DisplayName, content, int(file.SizeBytes)); err != nil {
			report.Failed++
			r.logger.Error().Err(err).Str("file", file.Name).Msg("Failed to index file")
			continue
		}

		report.Synced++
		r.logger.Info().
			Str("file", file.Name).
			Str("display_name", file.DisplayName).
			Msg("File synced to index")
	}

	r.logger.Info().
		Int("total", len(files)).
		Int("synced", report.Synced).
		Int("already_indexed", report.AlreadyIndexed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Reconciliation completed")

	return report, nil
}
