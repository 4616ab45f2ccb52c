package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tygr/ragserve/internal/config"
)

func testGeminiConfig(baseURL string) *config.GeminiConfig {
	return &config.GeminiConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		EmbeddingModel: "text-embedding-004",
		EmbeddingDim:   4,
		Timeout:        2 * time.Second,
	}
}

func TestGeminiProvider_Embed(t *testing.T) {
	var gotTask string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTask = req.TaskType
		require.Equal(t, "models/text-embedding-004", req.Model)
		require.Len(t, req.Content.Parts, 1)

		json.NewEncoder(w).Encode(map[string]any{
			"embedding": map[string]any{"values": []float32{0.1, 0.2, 0.3, 0.4}},
		})
	}))
	defer srv.Close()

	p := NewGeminiProvider(testGeminiConfig(srv.URL))

	vec, err := p.Embed(context.Background(), "hello world", TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)
	assert.Equal(t, string(TaskDocument), gotTask)

	_, err = p.Embed(context.Background(), "hello world", TaskQuery)
	require.NoError(t, err)
	assert.Equal(t, string(TaskQuery), gotTask)
}

func TestGeminiProvider_UpstreamErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGeminiProvider(testGeminiConfig(srv.URL))

	_, err := p.Embed(context.Background(), "hello", TaskDocument)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGeminiProvider_EmptyVectorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": map[string]any{"values": []float32{}}})
	}))
	defer srv.Close()

	p := NewGeminiProvider(testGeminiConfig(srv.URL))

	_, err := p.Embed(context.Background(), "hello", TaskDocument)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestLocalProvider_Deterministic(t *testing.T) {
	p := NewLocalProvider(32)

	a, err := p.Embed(context.Background(), "the quick brown fox", TaskDocument)
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the quick brown fox", TaskQuery)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestLocalProvider_EmptyTextYieldsZeroVector(t *testing.T) {
	p := NewLocalProvider(8)

	vec, err := p.Embed(context.Background(), "", TaskDocument)
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestLocalProvider_NormalizedOutput(t *testing.T) {
	p := NewLocalProvider(16)

	vec, err := p.Embed(context.Background(), "some words to embed here", TaskDocument)
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}
