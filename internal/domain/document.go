package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the lifecycle state of an ingested document
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document represents a unit of ingested content owned by a website.
// Status moves monotonically pending -> processing -> (ready|failed) and
// never reverts.
type Document struct {
	ID           string
	WebsiteID    string
	FileName     string
	StoragePath  string
	MimeType     string
	Status       DocumentStatus
	Checksum     string
	SizeBytes    int64
	FailedChunks int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDocument creates a new Document instance in the pending state
func NewDocument(id, websiteID, fileName, storagePath, mimeType, checksum string, sizeBytes int64, createdAt time.Time) *Document {
	return &Document{
		ID:          id,
		WebsiteID:   websiteID,
		FileName:    fileName,
		StoragePath: storagePath,
		MimeType:    mimeType,
		Status:      DocumentStatusPending,
		Checksum:    checksum,
		SizeBytes:   sizeBytes,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.WebsiteID == "" {
		return fmt.Errorf("document WebsiteID is required")
	}

	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	if d.SizeBytes < 0 {
		return fmt.Errorf("document SizeBytes cannot be negative")
	}

	return nil
}

// CanTransitionTo reports whether the status change respects the monotonic
// document lifecycle.
func (d *Document) CanTransitionTo(next DocumentStatus) bool {
	switch d.Status {
	case DocumentStatusPending:
		return next == DocumentStatusProcessing
	case DocumentStatusProcessing:
		return next == DocumentStatusReady || next == DocumentStatusFailed
	default:
		return false
	}
}

// isValidDocumentStatus checks if a DocumentStatus is valid
func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing,
		DocumentStatusReady, DocumentStatusFailed:
		return true
	}
	return false
}
