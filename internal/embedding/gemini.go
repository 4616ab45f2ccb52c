package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/monitoring"
)

// GeminiProvider generates embeddings via the Gemini embedContent endpoint.
// Calls run behind a circuit breaker so a failing upstream degrades fast
// instead of queueing requests against a dead API.
type GeminiProvider struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	baseURL   string
	apiKey    string
	model     string
	dimension int
}

// NewGeminiProvider creates a Gemini-backed embedding provider
func NewGeminiProvider(cfg *config.GeminiConfig) *GeminiProvider {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gemini-embedding",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger := logging.NewLogger("embedding")
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(name, breakerStateValue(to))
		},
	})

	return &GeminiProvider{
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker:   breaker,
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		model:     cfg.EmbeddingModel,
		dimension: cfg.EmbeddingDim,
	}
}

// Dimension returns the embedding dimensionality
func (p *GeminiProvider) Dimension() int {
	return p.dimension
}

type embedContentRequest struct {
	Model    string       `json:"model"`
	Content  embedContent `json:"content"`
	TaskType string       `json:"taskType"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed generates an embedding vector for the given text
func (p *GeminiProvider) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	start := time.Now()

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.embedOnce(ctx, text, task)
	})

	monitoring.RecordEmbeddingLatency(p.model, time.Since(start))
	if err != nil {
		monitoring.RecordEmbeddingRequest(p.model, "error")
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	monitoring.RecordEmbeddingRequest(p.model, "success")
	return result.([]float32), nil
}

func (p *GeminiProvider) embedOnce(ctx context.Context, text string, task TaskType) ([]float32, error) {
	payload := embedContentRequest{
		Model:    "models/" + p.model,
		Content:  embedContent{Parts: []embedPart{{Text: text}}},
		TaskType: string(task),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: upstream returned %d: %s", ErrUnavailable, resp.StatusCode, respBody)
	}

	var parsed embedContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(parsed.Embedding.Values) == 0 {
		return nil, ErrEmptyEmbedding
	}

	return parsed.Embedding.Values, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
