package models

// FileState represents the processing state reported by the file store
type FileState string

const (
	FileStateActive     FileState = "ACTIVE"
	FileStateProcessing FileState = "PROCESSING"
	FileStateFailed     FileState = "FAILED"
)

// FileRef describes a file hosted by the external file store.
// Name is the store-assigned identifier (e.g. "files/abc123") and is the
// natural key tying a hosted file to an indexed document.
type FileRef struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	URI         string    `json:"uri,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	CreateTime  string    `json:"create_time,omitempty"`
	State       FileState `json:"state"`
}
