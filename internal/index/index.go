package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/tygr/ragserve/internal/embedding"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/monitoring"
	"github.com/tygr/ragserve/internal/ranking"
)

// Service errors
var (
	// ErrNotFound is returned when no document carries the requested file key
	ErrNotFound = errors.New("document not found")
	// ErrEmbedding is returned when vector generation prevented the operation
	ErrEmbedding = errors.New("embedding generation failed")
	// ErrStorage is returned on a persistence-layer failure
	ErrStorage = errors.New("document index storage failure")
)

// ScoredDocument pairs a document with its similarity score for one query
type ScoredDocument struct {
	Document models.Document `json:"document"`
	Score    float64         `json:"score"`
}

// Service manages the document index: content, embeddings, and similarity
// search over them. Every mutating operation is a single transaction; a
// document is never visible with an embedding that does not match its
// content.
type Service struct {
	db       *pgxpool.Pool
	embedder embedding.Provider
	logger   zerolog.Logger
}

// NewService creates a new document index service
func NewService(db *pgxpool.Pool, embedder embedding.Provider) *Service {
	return &Service{
		db:       db,
		embedder: embedder,
		logger:   logging.NewLogger("index"),
	}
}

const documentColumns = `id, gemini_file_name, display_name, content, embedding, file_size, created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	err := row.Scan(
		&doc.ID, &doc.GeminiFileName, &doc.DisplayName, &doc.Content,
		&doc.Embedding, &doc.FileSize, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Upsert indexes content under the given file key. An existing document with
// that key gets its content replaced and its embedding regenerated; otherwise
// a new document is created. The write happens in one statement, so a failed
// embedding leaves nothing behind and concurrent upserts of the same key
// resolve to last-committer-wins.
func (s *Service) Upsert(ctx context.Context, geminiFileName, displayName, content string, fileSize int) (*models.Document, error) {
	vector, err := s.embedder.Embed(ctx, content, embedding.TaskDocument)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrEmbedding, displayName, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w for %s: provider returned no vector", ErrEmbedding, displayName)
	}

	if fileSize <= 0 {
		fileSize = len(content)
	}

	doc, err := scanDocument(s.db.QueryRow(ctx, `
		INSERT INTO documents (gemini_file_name, display_name, content, embedding, file_size)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (gemini_file_name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			file_size = EXCLUDED.file_size,
			updated_at = NOW()
		RETURNING `+documentColumns,
		geminiFileName, displayName, content, vector, fileSize,
	))
	if err != nil {
		return nil, fmt.Errorf("%w: upsert %s: %v", ErrStorage, geminiFileName, err)
	}

	monitoring.RecordDocumentIndexed()
	s.logger.Info().
		Str("file", geminiFileName).
		Str("display_name", displayName).
		Int("size", fileSize).
		Msg("Document indexed")

	return doc, nil
}

// Delete removes the document with the given file key. It reports whether a
// document was removed and never errors on a missing key.
func (s *Service) Delete(ctx context.Context, geminiFileName string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE gemini_file_name = $1`, geminiFileName)
	if err != nil {
		return false, fmt.Errorf("%w: delete %s: %v", ErrStorage, geminiFileName, err)
	}

	deleted := tag.RowsAffected() > 0
	if deleted {
		monitoring.RecordDocumentDeleted()
		s.logger.Info().Str("file", geminiFileName).Msg("Document removed from index")
	}
	return deleted, nil
}

// DeleteAll empties the index and returns how many documents were removed
func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("%w: delete all: %v", ErrStorage, err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("Index emptied")
	}
	return removed, nil
}

// Get retrieves a document by file key, or ErrNotFound
func (s *Service) Get(ctx context.Context, geminiFileName string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE gemini_file_name = $1`,
		geminiFileName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", ErrStorage, geminiFileName, err)
	}
	return doc, nil
}

// Count returns the total number of indexed documents
func (s *Service) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrStorage, err)
	}
	return count, nil
}

// List returns documents ordered by insertion (id ascending) for stable
// pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+` FROM documents ORDER BY id ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorage, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ErrStorage, err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", ErrStorage, err)
	}

	return docs, nil
}

// Search embeds the query text and ranks every embedded document against it.
// Documents without embeddings never participate. An empty index yields an
// empty result, not an error; a failed query embedding is surfaced as
// ErrEmbedding for the caller to handle.
func (s *Service) Search(ctx context.Context, query string, topK *int, threshold float64) ([]ScoredDocument, error) {
	queryVector, err := s.embedder.Embed(ctx, query, embedding.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("%w for query: %v", ErrEmbedding, err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE embedding IS NOT NULL ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: load candidates: %v", ErrStorage, err)
	}
	defer rows.Close()

	byID := make(map[int64]models.Document)
	var candidates []ranking.Candidate
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan candidate: %v", ErrStorage, err)
		}
		byID[doc.ID] = *doc
		candidates = append(candidates, ranking.Candidate{ID: doc.ID, Vector: doc.Embedding})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate candidates: %v", ErrStorage, err)
	}

	ranked := ranking.Rank(queryVector, candidates, topK, threshold)

	results := make([]ScoredDocument, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, ScoredDocument{Document: byID[r.ID], Score: r.Score})
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = results[0].Score
	}
	monitoring.RecordSearch(len(results), topScore)

	return results, nil
}
