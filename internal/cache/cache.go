// Package cache provides the document content cache consulted during
// reconciliation. The external file store cannot return the content of
// already-uploaded files, so content must be captured at upload time and
// looked up by file key later.
package cache

import (
	"context"
)

// Lookup resolves a file key to cached document content.
// A missing key is reported via found=false and is not an error.
type Lookup interface {
	// Content returns the cached content for the given file key
	Content(ctx context.Context, key string) (content string, found bool, err error)
}

// Store is a Lookup that can also capture content at upload time
type Store interface {
	Lookup
	// Put caches content under the given file key
	Put(ctx context.Context, key, content string) error
	// Delete removes a cached entry; deleting a missing key is a no-op
	Delete(ctx context.Context, key string) error
}
