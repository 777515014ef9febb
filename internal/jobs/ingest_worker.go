package jobs

import (
	"context"
	"fmt"
	"log"
)

// IngestionService defines the interface for processing pending documents
type IngestionService interface {
	// ProcessPending claims and processes a batch of pending documents,
	// returning the number claimed.
	ProcessPending(ctx context.Context) (int, error)
}

// IngestWorker drives document ingestion from the polling worker
type IngestWorker struct {
	service IngestionService
}

// NewIngestWorker creates a new IngestWorker instance
func NewIngestWorker(service IngestionService) *IngestWorker {
	return &IngestWorker{service: service}
}

// ProcessJobs implements the JobProcessor interface
func (w *IngestWorker) ProcessJobs(ctx context.Context) error {
	n, err := w.service.ProcessPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to process pending documents: %w", err)
	}
	if n > 0 {
		log.Printf("Processed %d pending documents", n)
	}
	return nil
}
