package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/tygr/ragserve/internal/chat"
	apierrors "github.com/tygr/ragserve/internal/errors"
	"github.com/tygr/ragserve/internal/filestore"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/querylog"
)

const maxUploadBytes = 20 << 20 // 20 MiB

// ChatRequest is the payload for POST /chat and POST /chat/stream
type ChatRequest struct {
	Query         string   `json:"query" binding:"required"`
	Model         string   `json:"model"`
	SelectedFiles []string `json:"selected_files"`
	SystemPrompt  *string  `json:"system_prompt"`
	TopK          *int     `json:"top_k" binding:"omitempty,min=0"`
	Threshold     *float64 `json:"threshold" binding:"omitempty,min=-1,max=1"`
}

func (r *ChatRequest) toChatRequest() *chat.Request {
	return &chat.Request{
		Query:         r.Query,
		Model:         r.Model,
		SelectedFiles: r.SelectedFiles,
		SystemPrompt:  r.SystemPrompt,
		TopK:          r.TopK,
		Threshold:     r.Threshold,
	}
}

// SearchRequest is the payload for POST /search
type SearchRequest struct {
	Query     string   `json:"query" binding:"required"`
	TopK      *int     `json:"top_k" binding:"omitempty,min=0"`
	Threshold *float64 `json:"threshold" binding:"omitempty,min=-1,max=1"`
}

// SearchResult is one ranked document with content trimmed for transport
type SearchResult struct {
	GeminiFileName string  `json:"gemini_file_name"`
	DisplayName    string  `json:"display_name"`
	ContentPreview string  `json:"content_preview"`
	FileSize       int     `json:"file_size"`
	Score          float64 `json:"score"`
}

func (s *APIServer) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	result, err := s.deps.Chat.Ask(c.Request.Context(), req.toChatRequest())
	if err != nil {
		respondError(c, chatErrorToAPIError(err))
		return
	}

	switch r := result.(type) {
	case *chat.Answer:
		c.JSON(http.StatusOK, r)
	case *chat.Refusal:
		s.respondRefusal(c, r)
	default:
		respondError(c, apierrors.ErrInternalServerError)
	}
}

// respondRefusal maps expected negative chat outcomes to HTTP statuses.
// A no-context refusal is a valid answer to the client, not an error.
func (s *APIServer) respondRefusal(c *gin.Context, r *chat.Refusal) {
	switch r.Kind {
	case chat.RefusalUnknownModel:
		respondError(c, apierrors.NewUnknownModelError(r.Message))
	case chat.RefusalRateLimited:
		respondError(c, apierrors.ErrRateLimitedError)
	default:
		c.JSON(http.StatusOK, r)
	}
}

func chatErrorToAPIError(err error) *apierrors.APIError {
	switch {
	case errors.Is(err, index.ErrEmbedding):
		return apierrors.ErrEmbeddingFailedError
	case errors.Is(err, index.ErrStorage):
		return apierrors.ErrIndexFailureError
	case errors.Is(err, generation.ErrUnavailable):
		return apierrors.ErrUpstreamUnavailableError
	default:
		return apierrors.ErrInternalServerError
	}
}

func (s *APIServer) handleSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	threshold := s.config.Retrieval.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	topK := req.TopK
	if topK == nil {
		topK = &s.config.Retrieval.TopK
	}

	scored, err := s.deps.Index.Search(c.Request.Context(), req.Query, topK, threshold)
	if err != nil {
		if errors.Is(err, index.ErrEmbedding) {
			respondError(c, apierrors.ErrEmbeddingFailedError)
		} else {
			respondError(c, apierrors.ErrIndexFailureError)
		}
		return
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sd := range scored {
		results = append(results, SearchResult{
			GeminiFileName: sd.Document.GeminiFileName,
			DisplayName:    sd.Document.DisplayName,
			ContentPreview: sd.Document.ContentPreview(),
			FileSize:       sd.Document.FileSize,
			Score:          sd.Score,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   len(results),
	})
}

func (s *APIServer) handleListModels(c *gin.Context) {
	catalog, err := s.deps.Catalog.Models(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"models": catalog,
		"total":  len(catalog),
	})
}

func (s *APIServer) handleRefreshModels(c *gin.Context) {
	s.deps.Catalog.InvalidateModels()
	catalog, err := s.deps.Catalog.Models(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"models": catalog,
		"total":  len(catalog),
	})
}

func (s *APIServer) handleListFiles(c *gin.Context) {
	files, err := s.deps.Files.List(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}

	indexed, err := s.deps.Index.Count(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrIndexFailureError)
		return
	}

	if files == nil {
		files = []models.FileRef{}
	}
	c.JSON(http.StatusOK, gin.H{
		"files":   files,
		"total":   len(files),
		"indexed": indexed,
	})
}

func (s *APIServer) handleUploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, apierrors.NewValidationError("multipart field \"file\" is required"))
		return
	}
	if fileHeader.Size > maxUploadBytes {
		respondError(c, apierrors.NewFileUploadError("File exceeds upload size limit"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondError(c, apierrors.NewFileUploadError("Unable to read uploaded file"))
		return
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil || len(content) > maxUploadBytes {
		respondError(c, apierrors.NewFileUploadError("Unable to read uploaded file"))
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "text/plain"
	}

	ctx := c.Request.Context()
	ref, err := s.deps.Files.Upload(ctx, fileHeader.Filename, mimeType, content)
	if err != nil {
		respondError(c, apierrors.NewFileUploadError("Upload to file store failed"))
		return
	}

	// Cache content now: the file store never serves it back, and the
	// reconciler depends on this copy.
	if s.deps.ContentCache != nil {
		if err := s.deps.ContentCache.Put(ctx, ref.Name, string(content)); err != nil {
			log.Warn().Err(err).Str("file", ref.Name).Msg("Failed to cache uploaded content")
		}
	}

	doc, err := s.deps.Index.Upsert(ctx, ref.Name, fileHeader.Filename, string(content), int(ref.SizeBytes))
	if err != nil {
		if errors.Is(err, index.ErrEmbedding) {
			respondError(c, apierrors.ErrEmbeddingFailedError)
		} else {
			respondError(c, apierrors.ErrIndexFailureError)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"file":     ref,
		"document": doc,
	})
}

func (s *APIServer) handleDeleteFile(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		respondError(c, apierrors.NewInvalidRequestError("File name is required"))
		return
	}
	if !strings.HasPrefix(name, "files/") {
		name = "files/" + name
	}

	ctx := c.Request.Context()

	storeErr := s.deps.Files.Delete(ctx, name)
	if storeErr != nil && !errors.Is(storeErr, filestore.ErrNotFound) {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}

	deleted, err := s.deps.Index.Delete(ctx, name)
	if err != nil {
		respondError(c, apierrors.ErrIndexFailureError)
		return
	}

	if s.deps.ContentCache != nil {
		if err := s.deps.ContentCache.Delete(ctx, name); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Failed to drop cached content")
		}
	}

	if !deleted && errors.Is(storeErr, filestore.ErrNotFound) {
		respondError(c, apierrors.ErrFileNotFoundError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"deleted": deleted || storeErr == nil,
	})
}

func (s *APIServer) handleClearFiles(c *gin.Context) {
	ctx := c.Request.Context()

	storeDeleted, storeErr := s.deps.Files.ClearAll(ctx)
	if storeErr != nil {
		log.Warn().Err(storeErr).Msg("File store clear finished with errors")
	}

	indexDeleted, err := s.deps.Index.DeleteAll(ctx)
	if err != nil {
		respondError(c, apierrors.ErrIndexFailureError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files_deleted":     storeDeleted,
		"documents_deleted": indexDeleted,
		"complete":          storeErr == nil,
	})
}

func (s *APIServer) handleSyncFiles(c *gin.Context) {
	ctx := c.Request.Context()

	files, err := s.deps.Files.List(ctx)
	if err != nil {
		respondError(c, apierrors.ErrUpstreamUnavailableError)
		return
	}

	report, err := s.deps.Reconciler.Reconcile(ctx, files)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *APIServer) handleStats(c *gin.Context) {
	stats, err := s.deps.Stats.Stats(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *APIServer) handleHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	order := c.DefaultQuery("order", "desc")

	history, err := s.deps.Stats.History(c.Request.Context(), page, pageSize, order)
	if err != nil {
		if errors.Is(err, querylog.ErrInvalidOrder) {
			respondError(c, apierrors.NewInvalidRequestError(err.Error()))
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, history)
}
