package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tygr/ragserve/internal/cache"
	"github.com/tygr/ragserve/internal/chat"
	"github.com/tygr/ragserve/internal/config"
	apierrors "github.com/tygr/ragserve/internal/errors"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/index"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/middleware"
	"github.com/tygr/ragserve/internal/models"
	"github.com/tygr/ragserve/internal/monitoring"
	"github.com/tygr/ragserve/internal/querylog"
	"github.com/tygr/ragserve/internal/reconcile"
)

// ChatService answers questions
type ChatService interface {
	Ask(ctx context.Context, req *chat.Request) (chat.Result, error)
	AskStream(ctx context.Context, req *chat.Request) (<-chan generation.Event, *chat.Refusal, error)
}

// DocumentIndex is the slice of the index service the API exposes
type DocumentIndex interface {
	Search(ctx context.Context, query string, topK *int, threshold float64) ([]index.ScoredDocument, error)
	Upsert(ctx context.Context, geminiFileName, displayName, content string, fileSize int) (*models.Document, error)
	Delete(ctx context.Context, geminiFileName string) (bool, error)
	DeleteAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit, offset int) ([]models.Document, error)
}

// ModelCatalog lists and refreshes the available generative models
type ModelCatalog interface {
	Models(ctx context.Context) ([]generation.ModelInfo, error)
	InvalidateModels()
}

// FileStore is the upstream file host
type FileStore interface {
	List(ctx context.Context) ([]models.FileRef, error)
	Upload(ctx context.Context, displayName, mimeType string, content []byte) (*models.FileRef, error)
	Delete(ctx context.Context, name string) error
	ClearAll(ctx context.Context) (int, error)
}

// QueryStats serves query log aggregates and history
type QueryStats interface {
	Stats(ctx context.Context) (*querylog.Stats, error)
	History(ctx context.Context, page, pageSize int, order string) (*querylog.HistoryPage, error)
}

// Reconciler syncs the file store listing into the index
type Reconciler interface {
	Reconcile(ctx context.Context, files []models.FileRef) (reconcile.Report, error)
}

// Deps bundles the services behind the API
type Deps struct {
	Chat         ChatService
	Index        DocumentIndex
	Catalog      ModelCatalog
	Files        FileStore
	Stats        QueryStats
	Reconciler   Reconciler
	ContentCache cache.Store
	// DBHealth reports database reachability for the health endpoint;
	// nil means no database check
	DBHealth func(ctx context.Context) error
}

// APIServer represents the main API server
type APIServer struct {
	config *config.Config
	router *gin.Engine
	deps   Deps
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, deps Deps) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config: cfg,
		router: router,
		deps:   deps,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/chat", s.handleChat)
		v1.POST("/chat/stream", s.handleChatStream)
		v1.POST("/search", s.handleSearch)

		modelsGroup := v1.Group("/models")
		{
			modelsGroup.GET("", s.handleListModels)
			modelsGroup.POST("/refresh", s.handleRefreshModels)
		}

		files := v1.Group("/files")
		{
			files.GET("", s.handleListFiles)
			files.POST("/upload", s.handleUploadFile)
			files.POST("/sync", s.handleSyncFiles)
			files.DELETE("/:name", s.handleDeleteFile)
			files.DELETE("", s.handleClearFiles)
		}

		stats := v1.Group("/stats")
		{
			stats.GET("", s.handleStats)
			stats.GET("/history", s.handleHistory)
		}
	}
}

// Health check handler
func (s *APIServer) healthCheck(c *gin.Context) {
	if s.deps.DBHealth != nil {
		if err := s.deps.DBHealth(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "degraded",
				"service": "ragserve",
				"error":   "database unreachable",
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "ragserve",
	})
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: middleware.GetRequestIDFromContext(c),
	})
}
