package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tygr/ragserve/internal/chat"
	"github.com/tygr/ragserve/internal/config"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/querylog"
	"github.com/tygr/ragserve/internal/reconcile"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChat struct {
	result       chat.Result
	err          error
	streamEvents []generation.Event
	refusal      *chat.Refusal
}

func (f *fakeChat) Ask(context.Context, *chat.Request) (chat.Result, error) {
	return f.result, f.err
}

func (f *fakeChat) AskStream(context.Context, *chat.Request) (<-chan generation.Event, *chat.Refusal, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.refusal != nil {
		return nil, f.refusal, nil
	}
	ch := make(chan generation.Event, len(f.streamEvents))
	for _, ev := range f.streamEvents {
		ch <- ev
	}
	close(ch)
	return ch, nil, nil
}

type fakeIndex struct {
	scored    []index.ScoredDocument
	searchErr error
	upserted  *models.Document
	upsertErr error
	deleted   bool
	count     int64
}

func (f *fakeIndex) Search(context.Context, string, *int, float64) ([]index.ScoredDocument, error) {
	return f.scored, f.searchErr
}

func (f *fakeIndex) Upsert(context.Context, string, string, string, int) (*models.Document, error) {
	return f.upserted, f.upsertErr
}

func (f *fakeIndex) Delete(context.Context, string) (bool, error) { return f.deleted, nil }
func (f *fakeIndex) DeleteAll(context.Context) (int64, error)     { return f.count, nil }
func (f *fakeIndex) Count(context.Context) (int64, error)         { return f.count, nil }
func (f *fakeIndex) List(context.Context, int, int) ([]models.Document, error) {
	return nil, nil
}

type fakeCatalog struct {
	models      []generation.ModelInfo
	err         error
	invalidated int
}

func (f *fakeCatalog) Models(context.Context) ([]generation.ModelInfo, error) {
	return f.models, f.err
}
func (f *fakeCatalog) InvalidateModels() { f.invalidated++ }

type fakeFiles struct {
	files     []models.FileRef
	listErr   error
	uploaded  *models.FileRef
	uploadErr error
	deleteErr error
	cleared   int
}

func (f *fakeFiles) List(context.Context) ([]models.FileRef, error) { return f.files, f.listErr }
func (f *fakeFiles) Upload(context.Context, string, string, []byte) (*models.FileRef, error) {
	return f.uploaded, f.uploadErr
}
func (f *fakeFiles) Delete(context.Context, string) error  { return f.deleteErr }
func (f *fakeFiles) ClearAll(context.Context) (int, error) { return f.cleared, nil }

type fakeStats struct {
	stats   *querylog.Stats
	history *querylog.HistoryPage
	err     error
}

func (f *fakeStats) Stats(context.Context) (*querylog.Stats, error) { return f.stats, f.err }
func (f *fakeStats) History(_ context.Context, page, pageSize int, order string) (*querylog.HistoryPage, error) {
	if order != querylog.OrderAsc && order != querylog.OrderDesc {
		return nil, querylog.ErrInvalidOrder
	}
	return f.history, f.err
}

type fakeReconciler struct {
	report reconcile.Report
}

func (f *fakeReconciler) Reconcile(context.Context, []models.FileRef) (reconcile.Report, error) {
	return f.report, nil
}

type memCache struct {
	content map[string]string
}

func (m *memCache) Content(_ context.Context, key string) (string, bool, error) {
	v, ok := m.content[key]
	return v, ok, nil
}
func (m *memCache) Put(_ context.Context, key, content string) error {
	m.content[key] = content
	return nil
}
func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.content, key)
	return nil
}

type testEnv struct {
	chat       *fakeChat
	index      *fakeIndex
	catalog    *fakeCatalog
	files      *fakeFiles
	stats      *fakeStats
	reconciler *fakeReconciler
	cache      *memCache
	server     *APIServer
}

func newTestEnv() *testEnv {
	env := &testEnv{
		chat:       &fakeChat{},
		index:      &fakeIndex{},
		catalog:    &fakeCatalog{},
		files:      &fakeFiles{},
		stats:      &fakeStats{},
		reconciler: &fakeReconciler{},
		cache:      &memCache{content: make(map[string]string)},
	}
	cfg := &config.Config{
		Server:    config.ServerConfig{Env: "test"},
		Retrieval: config.RetrievalConfig{TopK: 5, Threshold: 0.7},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	env.server = NewAPIServer(cfg, Deps{
		Chat:         env.chat,
		Index:        env.index,
		Catalog:      env.catalog,
		Files:        env.files,
		Stats:        env.stats,
		Reconciler:   env.reconciler,
		ContentCache: env.cache,
	})
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()
	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHealthCheck_DegradedWhenDBDown(t *testing.T) {
	env := newTestEnv()
	env.server.deps.DBHealth = func(context.Context) error { return errors.New("down") }

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestChat_Answer(t *testing.T) {
	env := newTestEnv()
	env.chat.result = &chat.Answer{
		Response:  "hello",
		ModelUsed: "gemini-2.0-flash",
		FilesUsed: []string{"files/a"},
	}

	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"query": "hi"})
	require.Equal(t, http.StatusOK, w.Code)

	var answer chat.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &answer))
	assert.Equal(t, "hello", answer.Response)
	assert.Equal(t, []string{"files/a"}, answer.FilesUsed)
}

func TestChat_MissingQueryFailsValidation(t *testing.T) {
	env := newTestEnv()
	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"model": "gemini-2.0-flash"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_UnknownModelRefusalIs400(t *testing.T) {
	env := newTestEnv()
	env.chat.result = &chat.Refusal{Kind: chat.RefusalUnknownModel, Message: "nope"}

	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"query": "hi", "model": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "40003")
}

func TestChat_RateLimitedRefusalIs429(t *testing.T) {
	env := newTestEnv()
	env.chat.result = &chat.Refusal{Kind: chat.RefusalRateLimited, Message: "slow down"}

	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestChat_NoContextRefusalIs200(t *testing.T) {
	env := newTestEnv()
	env.chat.result = &chat.Refusal{Kind: chat.RefusalNoContext, Message: "nothing matched"}

	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no_context")
}

func TestChat_GenerationUnavailableIs503(t *testing.T) {
	env := newTestEnv()
	env.chat.err = generation.ErrUnavailable

	w := env.do(http.MethodPost, "/api/v1/chat", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSearch_ReturnsPreviews(t *testing.T) {
	env := newTestEnv()
	env.index.scored = []index.ScoredDocument{
		{
			Document: models.Document{
				GeminiFileName: "files/a",
				DisplayName:    "a.txt",
				Content:        strings.Repeat("x", 500),
				FileSize:       500,
			},
			Score: 0.91,
		},
	}

	w := env.do(http.MethodPost, "/api/v1/search", gin.H{"query": "x"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []SearchResult `json:"results"`
		Total   int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "files/a", resp.Results[0].GeminiFileName)
	assert.InDelta(t, 0.91, resp.Results[0].Score, 1e-9)
	assert.LessOrEqual(t, len(resp.Results[0].ContentPreview), models.ContentPreviewLength+3)
}

func TestSearch_EmbeddingFailureIs500WithCode(t *testing.T) {
	env := newTestEnv()
	env.index.searchErr = index.ErrEmbedding

	w := env.do(http.MethodPost, "/api/v1/search", gin.H{"query": "x"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "50002")
}

func TestModels_ListAndRefresh(t *testing.T) {
	env := newTestEnv()
	env.catalog.models = []generation.ModelInfo{{Name: "gemini-2.0-flash"}}

	w := env.do(http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gemini-2.0-flash")

	w = env.do(http.MethodPost, "/api/v1/models/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.catalog.invalidated)
}

func TestFiles_List(t *testing.T) {
	env := newTestEnv()
	env.files.files = []models.FileRef{{Name: "files/a", DisplayName: "a.txt", State: models.FileStateActive}}
	env.index.count = 1

	w := env.do(http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Files   []models.FileRef `json:"files"`
		Total   int              `json:"total"`
		Indexed int64            `json:"indexed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, int64(1), resp.Indexed)
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestFiles_UploadIndexesAndCaches(t *testing.T) {
	env := newTestEnv()
	env.files.uploaded = &models.FileRef{Name: "files/new", DisplayName: "new.txt", SizeBytes: 11}
	env.index.upserted = &models.Document{ID: 1, GeminiFileName: "files/new"}

	body, contentType := multipartBody(t, "new.txt", "hello world")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "hello world", env.cache.content["files/new"])
}

func TestFiles_UploadFailureIs422(t *testing.T) {
	env := newTestEnv()
	env.files.uploadErr = errors.New("upstream rejected")

	body, contentType := multipartBody(t, "new.txt", "hello")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "42201")
}

func TestFiles_DeleteRemovesEverywhere(t *testing.T) {
	env := newTestEnv()
	env.index.deleted = true
	env.cache.content["files/a"] = "cached"

	w := env.do(http.MethodDelete, "/api/v1/files/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "files/a")
	_, stillCached := env.cache.content["files/a"]
	assert.False(t, stillCached)
}

func TestFiles_Sync(t *testing.T) {
	env := newTestEnv()
	env.reconciler.report = reconcile.Report{Synced: 2, Skipped: 1}

	w := env.do(http.MethodPost, "/api/v1/files/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report reconcile.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.Skipped)
}

func TestStats(t *testing.T) {
	env := newTestEnv()
	env.stats.stats = &querylog.Stats{TotalQueries: 7, SuccessRatePercent: 100}

	w := env.do(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"total_queries\":7")
}

func TestHistory_InvalidOrderIs400(t *testing.T) {
	env := newTestEnv()

	w := env.do(http.MethodGet, "/api/v1/stats/history?order=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStream_EmitsSSE(t *testing.T) {
	env := newTestEnv()
	env.chat.streamEvents = []generation.Event{
		generation.Chunk{Text: "hel"},
		generation.Chunk{Text: "lo"},
		generation.Complete{FullText: "hello", Usage: models.TokenUsage{TotalTokens: 3}},
	}

	w := env.do(http.MethodPost, "/api/v1/chat/stream", gin.H{"query": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"type":"chunk"`)
	assert.Contains(t, body, `"full_text":"hello"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestChatStream_RefusalBeforeStreamIsJSON(t *testing.T) {
	env := newTestEnv()
	env.chat.refusal = &chat.Refusal{Kind: chat.RefusalUnknownModel, Message: "nope"}

	w := env.do(http.MethodPost, "/api/v1/chat/stream", gin.H{"query": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
}
