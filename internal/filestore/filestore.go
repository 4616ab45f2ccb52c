// Package filestore is a client for the Gemini Files API. Uploaded files
// live upstream for roughly 48 hours; the API returns metadata only, never
// file content, which is why document content is cached locally at upload
// time.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tygr/ragserve/internal/logging"
	"github.com/tygr/ragserve/internal/models"
)

// Client errors
var (
	// ErrUpload is returned when a file could not be uploaded upstream
	ErrUpload = errors.New("file upload failed")
	// ErrNotFound is returned when the named file does not exist upstream
	ErrNotFound = errors.New("file not found in store")
	// ErrUnavailable is returned for transport or upstream failures
	ErrUnavailable = errors.New("file store unavailable")
)

const listPageSize = 100

// Client talks to the Gemini Files API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a file store client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("filestore"),
	}
}

// wire representation: sizeBytes arrives as a decimal string
type fileResource struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	URI         string `json:"uri"`
	SizeBytes   string `json:"sizeBytes"`
	CreateTime  string `json:"createTime"`
	State       string `json:"state"`
}

type listFilesResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

func (f fileResource) toFileRef() models.FileRef {
	size, _ := strconv.ParseInt(f.SizeBytes, 10, 64)
	return models.FileRef{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		SizeBytes:   size,
		CreateTime:  f.CreateTime,
		State:       models.FileState(f.State),
	}
}

// List returns every file currently held upstream, following pagination to
// the end.
func (c *Client) List(ctx context.Context) ([]models.FileRef, error) {
	var files []models.FileRef
	pageToken := ""

	for {
		url := fmt.Sprintf("%s/v1beta/files?key=%s&pageSize=%d", c.baseURL, c.apiKey, listPageSize)
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
			return nil, fmt.Errorf("%w: list returned status %d", ErrUnavailable, resp.StatusCode)
		}

		var page listFilesResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: decode list response: %v", ErrUnavailable, err)
		}

		for _, f := range page.Files {
			files = append(files, f.toFileRef())
		}

		if page.NextPageToken == "" {
			return files, nil
		}
		pageToken = page.NextPageToken
	}
}

// Upload pushes content upstream under the given display name using the
// resumable upload protocol and returns the stored file's metadata.
func (c *Client) Upload(ctx context.Context, displayName, mimeType string, content []byte) (*models.FileRef, error) {
	uploadURL, err := c.startUpload(ctx, displayName, mimeType, len(content))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Length", strconv.Itoa(len(content)))
	req.Header.Set("X-Goog-Upload-Offset", "0")
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upload returned status %d", ErrUpload, resp.StatusCode)
	}

	var result struct {
		File fileResource `json:"file"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode upload response: %v", ErrUpload, err)
	}

	ref := result.File.toFileRef()
	c.logger.Info().
		Str("file", ref.Name).
		Str("display_name", displayName).
		Int("size", len(content)).
		Msg("File uploaded")

	return &ref, nil
}

func (c *Client) startUpload(ctx context.Context, displayName, mimeType string, size int) (string, error) {
	meta, err := json.Marshal(map[string]any{
		"file": map[string]string{"display_name": displayName},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(meta))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(size))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: upload start returned status %d", ErrUpload, resp.StatusCode)
	}

	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return "", fmt.Errorf("%w: upstream returned no upload URL", ErrUpload)
	}
	return uploadURL, nil
}

// Delete removes the named file upstream. Missing files map to ErrNotFound.
func (c *Client) Delete(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, name, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		c.logger.Info().Str("file", name).Msg("File deleted from store")
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	default:
		return fmt.Errorf("%w: delete returned status %d", ErrUnavailable, resp.StatusCode)
	}
}

// ClearAll deletes every file upstream. Per-file failures do not abort the
// sweep; the count of successful deletions is returned alongside the first
// error encountered, if any.
func (c *Client) ClearAll(ctx context.Context) (int, error) {
	files, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var firstErr error
	for _, f := range files {
		if err := c.Delete(ctx, f.Name); err != nil {
			c.logger.Error().Err(err).Str("file", f.Name).Msg("Failed to delete file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}

	c.logger.Info().
		Int("deleted", deleted).
		Int("total", len(files)).
		Msg("File store cleared")

	return deleted, firstErr
}
