// Package generation is a client for the Gemini generateContent API:
// model catalog, blocking completions, and streamed completions.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/monitoring"
)

// Client errors
var (
	// ErrUnknownModel is returned when the requested model does not exist
	// upstream
	ErrUnknownModel = errors.New("unknown model")
	// ErrRateLimited is returned when the upstream quota is exhausted
	ErrRateLimited = errors.New("generation rate limited")
	// ErrUnavailable is returned for transport or upstream failures
	ErrUnavailable = errors.New("generation service unavailable")
	// ErrEmptyCompletion is returned when the upstream answered with no
	// candidates
	ErrEmptyCompletion = errors.New("upstream returned no completion")
)

// ModelInfo describes one generative model from the upstream catalog
type ModelInfo struct {
	Name             string `json:"name"`
	DisplayName      string `json:"display_name"`
	Description      string `json:"description"`
	InputTokenLimit  int    `json:"input_token_limit"`
	OutputTokenLimit int    `json:"output_token_limit"`
}

// Request holds the inputs for one completion
type Request struct {
	Model        string
	SystemPrompt string
	Prompt       string
}

// Completion is the result of one blocking generation call
type Completion struct {
	Text  string
	Usage models.TokenUsage
}

// Event is one element of a streamed completion. Exactly one terminal event
// (Complete or Failure) ends every stream.
type Event interface {
	isEvent()
}

// Chunk carries one incremental text fragment
type Chunk struct {
	Text string
}

// Complete carries the assembled text and token usage of a finished stream
type Complete struct {
	FullText string
	Usage    models.TokenUsage
}

// Failure carries the error that ended a stream early
type Failure struct {
	Err error
}

func (Chunk) isEvent()    {}
func (Complete) isEvent() {}
func (Failure) isEvent()  {}

// Client talks to the Gemini generative API. The model catalog is cached in
// the client and populated on first use; InvalidateModels drops the cache so
// the next Models call refetches.
type Client struct {
	baseURL         string
	apiKey          string
	maxOutputTokens int
	httpClient      *http.Client
	logger          zerolog.Logger

	mu           sync.Mutex
	cachedModels []ModelInfo
}

// NewClient creates a generation client
func NewClient(cfg *config.GeminiConfig) *Client {
	return &Client{
		baseURL:         cfg.BaseURL,
		apiKey:          cfg.APIKey,
		maxOutputTokens: cfg.MaxOutputTokens,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		logger:          logging.NewLogger("generation"),
	}
}

type listModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		Description                string   `json:"description"`
		InputTokenLimit            int      `json:"inputTokenLimit"`
		OutputTokenLimit           int      `json:"outputTokenLimit"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

// Models returns the catalog of models that support content generation.
// The first call fetches from upstream; later calls serve the cached copy
// until InvalidateModels.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedModels != nil {
		return c.cachedModels, nil
	}

	var catalog []ModelInfo
	pageToken := ""
	for {
		url := fmt.Sprintf("%s/v1beta/models?key=%s&pageSize=100", c.baseURL, c.apiKey)
		if pageToken != "" {
			url += "&pageToken=" + pageToken
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: list models returned status %d", ErrUnavailable, resp.StatusCode)
		}

		var page listModelsResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: decode models response: %v", ErrUnavailable, err)
		}

		for _, m := range page.Models {
			if !supportsGeneration(m.SupportedGenerationMethods) {
				continue
			}
			catalog = append(catalog, ModelInfo{
				Name:             strings.TrimPrefix(m.Name, "models/"),
				DisplayName:      m.DisplayName,
				Description:      m.Description,
				InputTokenLimit:  m.InputTokenLimit,
				OutputTokenLimit: m.OutputTokenLimit,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.cachedModels = catalog
	c.logger.Info().Int("models", len(catalog)).Msg("Model catalog refreshed")
	return catalog, nil
}

// InvalidateModels drops the cached catalog so the next Models call
// refetches from upstream
func (c *Client) InvalidateModels() {
	c.mu.Lock()
	c.cachedModels = nil
	c.mu.Unlock()
}

// KnownModel reports whether the named model appears in the catalog
func (c *Client) KnownModel(ctx context.Context, name string) (bool, error) {
	catalog, err := c.Models(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range catalog {
		if m.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func supportsGeneration(methods []string) bool {
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

type generateContentRequest struct {
	Contents          []wireContent  `json:"contents"`
	SystemInstruction *wireContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *wireGenConfig `json:"generationConfig,omitempty"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text string `json:"text"`
}

type wireGenConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content wireContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *wireUsage `json:"usageMetadata"`
}

type wireUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *wireUsage) toTokenUsage() models.TokenUsage {
	if u == nil {
		return models.TokenUsage{}
	}
	return models.TokenUsage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func (r *Request) toWire(maxOutputTokens int) generateContentRequest {
	payload := generateContentRequest{
		Contents: []wireContent{
			{Role: "user", Parts: []wirePart{{Text: r.Prompt}}},
		},
	}
	if r.SystemPrompt != "" {
		payload.SystemInstruction = &wireContent{Parts: []wirePart{{Text: r.SystemPrompt}}}
	}
	if maxOutputTokens > 0 {
		payload.GenerationConfig = &wireGenConfig{MaxOutputTokens: maxOutputTokens}
	}
	return payload
}

func statusError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusNotFound:
		return ErrUnknownModel
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: upstream returned %d: %s", ErrUnavailable, statusCode, body)
	}
}

// Generate runs one blocking completion
func (c *Client) Generate(ctx context.Context, genReq *Request) (*Completion, error) {
	start := time.Now()

	body, err := json.Marshal(genReq.toWire(c.maxOutputTokens))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, genReq.Model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, statusError(resp.StatusCode, respBody)
	}

	var parsed generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, fmt.Errorf("failed to decode generate response: %w", err)
	}

	text := candidateText(parsed)
	if text == "" {
		monitoring.RecordGenerationRequest(genReq.Model, "error")
		return nil, ErrEmptyCompletion
	}

	usage := parsed.UsageMetadata.toTokenUsage()
	monitoring.RecordGenerationLatency(genReq.Model, time.Since(start))
	monitoring.RecordGenerationRequest(genReq.Model, "success")
	monitoring.RecordGenerationTokens(genReq.Model, usage.PromptTokens, usage.CompletionTokens)

	return &Completion{Text: text, Usage: usage}, nil
}

func candidateText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}
