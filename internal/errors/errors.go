package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrUnknownModel     ErrorCode = "40003"

	// Resource errors (404xx)
	ErrDocumentNotFound ErrorCode = "40401"
	ErrFileNotFound     ErrorCode = "40402"

	// Payload errors (422xx)
	ErrFileUploadFailed ErrorCode = "42201"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (500xx)
	ErrInternalServer      ErrorCode = "50001"
	ErrEmbeddingFailed     ErrorCode = "50002"
	ErrIndexFailure        ErrorCode = "50003"
	ErrUpstreamUnavailable ErrorCode = "50301"
	ErrUpstreamTimeout     ErrorCode = "50401"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrDocumentNotFoundError = &APIError{
		Code:       ErrDocumentNotFound,
		Message:    "Document not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrFileNotFoundError = &APIError{
		Code:       ErrFileNotFound,
		Message:    "File not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Upstream rate limit exceeded, retry later",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrEmbeddingFailedError = &APIError{
		Code:       ErrEmbeddingFailed,
		Message:    "Embedding generation failed",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrIndexFailureError = &APIError{
		Code:       ErrIndexFailure,
		Message:    "Document index operation failed",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrUpstreamUnavailableError = &APIError{
		Code:       ErrUpstreamUnavailable,
		Message:    "Upstream service unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrUpstreamTimeoutError = &APIError{
		Code:       ErrUpstreamTimeout,
		Message:    "Upstream service timeout",
		HTTPStatus: http.StatusGatewayTimeout,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewUnknownModelError creates an error for a model name outside the catalog
func NewUnknownModelError(model string) *APIError {
	return &APIError{
		Code:       ErrUnknownModel,
		Message:    "Unsupported model: " + model,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewFileUploadError creates a file upload failure error
func NewFileUploadError(message string) *APIError {
	return &APIError{
		Code:       ErrFileUploadFailed,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}
