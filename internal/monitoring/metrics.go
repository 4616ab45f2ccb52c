package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Embedding upstream metrics
	EmbeddingLatency  *prometheus.HistogramVec
	EmbeddingRequests *prometheus.CounterVec

	// Generation upstream metrics
	GenerationLatency  *prometheus.HistogramVec
	GenerationRequests *prometheus.CounterVec
	GenerationTokens   *prometheus.CounterVec

	// Retrieval metrics
	SearchesTotal   prometheus.Counter
	SearchResults   prometheus.Histogram
	SearchTopScore  prometheus.Histogram

	// Content cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Index metrics
	DocumentsIndexed prometheus.Counter
	DocumentsDeleted prometheus.Counter

	// Query log metrics
	QueriesLogged *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		EmbeddingLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_latency_seconds",
				Help:    "Embedding API response latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{"model"},
		),
		EmbeddingRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_requests_total",
				Help: "Total number of embedding API requests",
			},
			[]string{"model", "status"},
		),

		GenerationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "generation_latency_seconds",
				Help:    "Generation API response latency in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"model"},
		),
		GenerationRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_requests_total",
				Help: "Total number of generation API requests",
			},
			[]string{"model", "status"},
		),
		GenerationTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_tokens_total",
				Help: "Total tokens consumed by generation requests",
			},
			[]string{"model", "kind"},
		),

		SearchesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "searches_total",
				Help: "Total number of similarity searches",
			},
		),
		SearchResults: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of documents returned per similarity search",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
			},
		),
		SearchTopScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_top_score",
				Help:    "Best similarity score per search",
				Buckets: []float64{0, .1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of content cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of content cache misses",
			},
			[]string{"cache_type"},
		),

		DocumentsIndexed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_indexed_total",
				Help: "Total number of documents written to the index",
			},
		),
		DocumentsDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "documents_deleted_total",
				Help: "Total number of documents removed from the index",
			},
		),

		QueriesLogged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queries_logged_total",
				Help: "Total number of query log entries written",
			},
			[]string{"model", "status"},
		),

		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"breaker"},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordEmbeddingLatency records embedding API latency
func RecordEmbeddingLatency(model string, duration time.Duration) {
	Get().EmbeddingLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordEmbeddingRequest records an embedding API request
func RecordEmbeddingRequest(model, status string) {
	Get().EmbeddingRequests.WithLabelValues(model, status).Inc()
}

// RecordGenerationLatency records generation API latency
func RecordGenerationLatency(model string, duration time.Duration) {
	Get().GenerationLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordGenerationRequest records a generation API request
func RecordGenerationRequest(model, status string) {
	Get().GenerationRequests.WithLabelValues(model, status).Inc()
}

// RecordGenerationTokens records token usage for a completed generation
func RecordGenerationTokens(model string, promptTokens, completionTokens int) {
	m := Get()
	m.GenerationTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.GenerationTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordSearch records the outcome of a similarity search
func RecordSearch(resultCount int, topScore float64) {
	m := Get()
	m.SearchesTotal.Inc()
	m.SearchResults.Observe(float64(resultCount))
	if resultCount > 0 {
		m.SearchTopScore.Observe(topScore)
	}
}

// RecordCacheHit records a content cache hit
func RecordCacheHit(cacheType string) {
	Get().CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a content cache miss
func RecordCacheMiss(cacheType string) {
	Get().CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDocumentIndexed records a document write
func RecordDocumentIndexed() {
	Get().DocumentsIndexed.Inc()
}

// RecordDocumentDeleted records a document removal
func RecordDocumentDeleted() {
	Get().DocumentsDeleted.Inc()
}

// RecordQueryLogged records a query log write
func RecordQueryLogged(model, status string) {
	Get().QueriesLogged.WithLabelValues(model, status).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(breaker string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(breaker).Set(state)
}
