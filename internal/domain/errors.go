package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeEmbedding     = "EMBEDDING_ERROR"
	ErrCodeRetrieval     = "RETRIEVAL_ERROR"
	ErrCodeIngestion     = "INGESTION_ERROR"
	ErrCodeStalled       = "STREAM_STALLED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrEmptyDocument        = NewDomainError(ErrCodeValidation, "document text cannot be empty")
	ErrDocumentTooLarge     = NewDomainError(ErrCodeValidation, "document exceeds maximum size")
	ErrEmptyMessage         = NewDomainError(ErrCodeValidation, "message cannot be empty")
	ErrInvalidWebsiteID     = NewDomainError(ErrCodeValidation, "invalid website id")
	ErrInvalidDocumentState = NewDomainError(ErrCodeValidation, "invalid document status transition")
	ErrInvalidMessageRole   = NewDomainError(ErrCodeValidation, "invalid message role")
)

// Not found errors
var (
	ErrWebsiteNotFound  = NewDomainError(ErrCodeNotFound, "website not found")
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChatNotFound     = NewDomainError(ErrCodeNotFound, "chat not found")
)

// Authorization errors
var (
	ErrOriginNotAllowed    = NewDomainError(ErrCodeForbidden, "origin not allowed for this website")
	ErrWebsiteAccessDenied = NewDomainError(ErrCodeForbidden, "api key does not grant access to this website")
	ErrAPIKeyNotFound      = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrInvalidAPIKey       = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrAPIKeyRevoked       = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
)

// Rate limiting
var ErrRateLimited = NewDomainError(ErrCodeRateLimited, "rate limit exceeded")

// ErrStreamStalled is raised by the stall watchdog when the upstream token
// stream goes idle past the configured timeout. Retryable by definition.
var ErrStreamStalled = NewDomainError(ErrCodeStalled, "model stream stalled")

// EmbeddingError wraps a remote embedding failure and records whether the
// operation is worth retrying (timeouts, remote rate limits, transient 5xx).
type EmbeddingError struct {
	Retryable bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("embedding failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// NewEmbeddingError creates a new EmbeddingError
func NewEmbeddingError(retryable bool, err error) *EmbeddingError {
	return &EmbeddingError{Retryable: retryable, Err: err}
}

// RetrievalError wraps a failure in query embedding or similarity search.
// Callers degrade to an empty context instead of failing the chat flow.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// NewRetrievalError creates a new RetrievalError
func NewRetrievalError(err error) *RetrievalError {
	return &RetrievalError{Err: err}
}

// IngestionError wraps a chunk or storage failure that aborted an ingestion
// and triggered rollback of partially written rows.
type IngestionError struct {
	DocumentID string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed for document %s: %v", e.DocumentID, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// NewIngestionError creates a new IngestionError
func NewIngestionError(documentID string, err error) *IngestionError {
	return &IngestionError{DocumentID: documentID, Err: err}
}
