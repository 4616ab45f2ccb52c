package models

import (
	"time"
)

// ContentPreviewLength is the number of content bytes included in API previews
const ContentPreviewLength = 200

// Document represents an indexed document with its embedding vector
type Document struct {
	ID             int64      `json:"id" db:"id"`
	GeminiFileName string     `json:"gemini_file_name" db:"gemini_file_name"`
	DisplayName    string     `json:"display_name" db:"display_name"`
	Content        string     `json:"-" db:"content"`
	Embedding      []float32  `json:"-" db:"embedding"`
	FileSize       int        `json:"file_size" db:"file_size"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ContentPreview returns a truncated view of the document content
func (d *Document) ContentPreview() string {
	if len(d.Content) > ContentPreviewLength {
		return d.Content[:ContentPreviewLength] + "..."
	}
	return d.Content
}

// HasEmbedding reports whether the document is eligible for similarity search
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}
