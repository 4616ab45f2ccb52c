package querylog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/monitoring"
)

// Service errors
var (
	// ErrLogging is returned when a query log entry cannot be persisted.
	// Callers treat it as non-fatal to the primary operation.
	ErrLogging = errors.New("query log write failed")
	// ErrInvalidOrder is returned for an order value outside {asc, desc}
	ErrInvalidOrder = errors.New("order must be \"asc\" or \"desc\"")
)

// Order directions for history pagination
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Entry holds the fields of one query log record to append
type Entry struct {
	Query            string
	ModelUsed        string
	FilesUsed        int
	SelectedFiles    []string
	SystemPromptUsed *string
	ResponseLength   *int
	Usage            *models.TokenUsage
	Success          bool
	ErrorMessage     *string
}

// Stats aggregates usage across all logged queries
type Stats struct {
	TotalQueries          int64            `json:"total_queries"`
	SuccessfulQueries     int64            `json:"successful_queries"`
	SuccessRatePercent    float64          `json:"success_rate_percent"`
	ModelUsage            map[string]int64 `json:"usage_by_model"`
	AvgFilesUsed          float64          `json:"avg_files_used"`
	TotalTokensUsed       int64            `json:"total_tokens_used"`
	AvgTokensPerQuery     float64          `json:"avg_tokens_per_query"`
	TotalEstimatedCostUSD decimal.Decimal  `json:"total_estimated_cost_usd"`
}

// HistoryPage is one page of query log history
type HistoryPage struct {
	Entries    []models.QueryLogEntry `json:"entries"`
	TotalCount int64                  `json:"total_count"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"page_size"`
}

// Service appends to and aggregates the query log
type Service struct {
	db     *pgxpool.Pool
	prices PriceTable
	logger zerolog.Logger
}

// NewService creates a new query log service
func NewService(db *pgxpool.Pool, prices PriceTable) *Service {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Service{
		db:     db,
		prices: prices,
		logger: logging.NewLogger("querylog"),
	}
}

// Log appends one record. The log is append-only; entries are never updated.
func (s *Service) Log(ctx context.Context, entry *Entry) (*models.QueryLogEntry, error) {
	var promptTokens, completionTokens, totalTokens *int
	var cost *decimal.Decimal
	if entry.Usage != nil {
		promptTokens = &entry.Usage.PromptTokens
		completionTokens = &entry.Usage.CompletionTokens
		totalTokens = &entry.Usage.TotalTokens
		c := s.prices.EstimateCost(entry.ModelUsed, *entry.Usage)
		cost = &c
	}

	selectedFiles := entry.SelectedFiles
	if selectedFiles == nil {
		selectedFiles = []string{}
	}

	var logged models.QueryLogEntry
	err := s.db.QueryRow(ctx, `
		INSERT INTO query_logs (
			query, model_used, files_used, selected_files, system_prompt_used,
			response_length, prompt_tokens, completion_tokens, total_tokens,
			estimated_cost_usd, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, query, model_used, files_used, selected_files,
			system_prompt_used, response_length, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost_usd, success,
			error_message, created_at
	`, entry.Query, entry.ModelUsed, entry.FilesUsed, selectedFiles,
		entry.SystemPromptUsed, entry.ResponseLength, promptTokens,
		completionTokens, totalTokens, cost, entry.Success, entry.ErrorMessage,
	).Scan(
		&logged.ID, &logged.Query, &logged.ModelUsed, &logged.FilesUsed,
		&logged.SelectedFiles, &logged.SystemPromptUsed, &logged.ResponseLength,
		&logged.PromptTokens, &logged.CompletionTokens, &logged.TotalTokens,
		&logged.EstimatedCostUSD, &logged.Success, &logged.ErrorMessage,
		&logged.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLogging, err)
	}

	status := "success"
	if !entry.Success {
		status = "error"
	}
	monitoring.RecordQueryLogged(entry.ModelUsed, status)

	return &logged, nil
}

// Stats computes aggregate usage statistics. An empty log yields all-zero
// stats, never a division error.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ModelUsage:            make(map[string]int64),
		TotalEstimatedCostUSD: decimal.Zero,
	}

	err := s.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COALESCE(AVG(files_used), 0)::FLOAT8,
			COALESCE(SUM(total_tokens), 0)::BIGINT,
			COALESCE(AVG(total_tokens), 0)::FLOAT8,
			COALESCE(SUM(estimated_cost_usd), 0)
		FROM query_logs
	`).Scan(
		&stats.TotalQueries, &stats.SuccessfulQueries, &stats.AvgFilesUsed,
		&stats.TotalTokensUsed, &stats.AvgTokensPerQuery,
		&stats.TotalEstimatedCostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate query stats: %w", err)
	}

	stats.SuccessRatePercent = SuccessRatePercent(stats.TotalQueries, stats.SuccessfulQueries)

	rows, err := s.db.Query(ctx, `
		SELECT model_used, COUNT(*) FROM query_logs GROUP BY model_used`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate model usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var model string
		var count int64
		if err := rows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("failed to scan model usage: %w", err)
		}
		stats.ModelUsage[model] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model usage: %w", err)
	}

	return stats, nil
}

// History returns one page of the query log ordered by creation time.
// Pages beyond the available data return an empty entry list with the
// correct total count.
func (s *Service) History(ctx context.Context, page, pageSize int, order string) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	switch order {
	case OrderAsc, OrderDesc:
	case "":
		order = OrderDesc
	default:
		return nil, ErrInvalidOrder
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM query_logs`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count query logs: %w", err)
	}

	direction := "DESC"
	if order == OrderAsc {
		direction = "ASC"
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, query, model_used, files_used, selected_files,
			system_prompt_used, response_length, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost_usd, success,
			error_message, created_at
		FROM query_logs
		ORDER BY created_at `+direction+`, id `+direction+`
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.QueryLogEntry, 0, pageSize)
	for rows.Next() {
		var e models.QueryLogEntry
		err := rows.Scan(
			&e.ID, &e.Query, &e.ModelUsed, &e.FilesUsed, &e.SelectedFiles,
			&e.SystemPromptUsed, &e.ResponseLength, &e.PromptTokens,
			&e.CompletionTokens, &e.TotalTokens, &e.EstimatedCostUSD,
			&e.Success, &e.ErrorMessage, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return &HistoryPage{
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// CleanupOlderThan deletes log entries older than the retention window and
// returns how many were removed. This is the only sanctioned way entries
// leave the log.
func (s *Service) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	tag, err := s.db.Exec(ctx, `DELETE FROM query_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up query logs: %w", err)
	}

	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Old query log entries removed")
	}
	return removed, nil
}

// SuccessRatePercent computes successful/total*100, defined as 0 for an
// empty log
func SuccessRatePercent(total, successful int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}
