package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tygr/ragserve/internal/monitoring"
)

// DirStore caches document content as files on disk, one file per key.
// File-store keys look like "files/abc123"; the entry for that key lives at
// <root>/files/abc123.txt.
type DirStore struct {
	root string
}

// NewDirStore creates a directory-backed content store rooted at root
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DirStore{root: root}, nil
}

// Content returns the cached content for the given file key
func (s *DirStore) Content(ctx context.Context, key string) (string, bool, error) {
	path, err := s.entryPath(key)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			monitoring.RecordCacheMiss("dir")
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache read failed for %s: %w", key, err)
	}
	monitoring.RecordCacheHit("dir")
	return string(data), true, nil
}

// Put caches content under the given file key
func (s *DirStore) Put(ctx context.Context, key, content string) error {
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache write failed for %s: %w", key, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("cache write failed for %s: %w", key, err)
	}
	return nil
}

// Delete removes a cached entry
func (s *DirStore) Delete(ctx context.Context, key string) error {
	path, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache delete failed for %s: %w", key, err)
	}
	return nil
}

// entryPath maps a file key to a path under the cache root, rejecting keys
// that would escape it
func (s *DirStore) entryPath(key string) (string, error) {
	cleaned := filepath.Clean(key)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(s.root, cleaned+".txt"), nil
}
