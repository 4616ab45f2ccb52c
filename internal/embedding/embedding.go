package embedding

import (
	"context"
	"errors"
)

// TaskType selects the embedding instruction mode. Document and query
// embeddings use different instructions but share the same output shape.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

// Provider errors
var (
	// ErrUnavailable is returned when the embedding upstream cannot produce
	// a vector (transport failure, rate limit, open circuit breaker)
	ErrUnavailable = errors.New("embedding provider unavailable")
	// ErrEmptyEmbedding is returned when the upstream answers without a vector
	ErrEmptyEmbedding = errors.New("embedding response contained no vector")
)

// Provider converts text into a fixed-length embedding vector
type Provider interface {
	// Embed generates an embedding for the given text and task type
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
	// Dimension returns the length of vectors produced by this provider
	Dimension() int
}
