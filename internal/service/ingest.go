package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/verity-labs/docvox/internal/domain"
	"github.com/verity-labs/docvox/internal/pagination"
	"github.com/verity-labs/docvox/internal/telemetry"
)

// DocumentRepositoryInterface defines the repository interface for document persistence
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByWebsiteWithCursor(ctx context.Context, websiteID string, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)

	// ClaimPending atomically moves up to limit pending documents to
	// processing and returns them. Two concurrent workers never claim the
	// same document.
	ClaimPending(ctx context.Context, limit int) ([]*domain.Document, error)

	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, failedChunks int) error
	Delete(ctx context.Context, id string) error
}

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	InsertChunks(ctx context.Context, chunks []*domain.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// TxRepositories exposes repositories bound to a single transaction.
type TxRepositories interface {
	Documents() DocumentRepositoryInterface
	Chunks() ChunkRepositoryInterface
}

// TxRunner runs fn inside one transaction, rolling back if fn fails.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

// ObjectStore defines the interface for raw document storage
type ObjectStore interface {
	PutObject(ctx context.Context, key string, contentType string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
}

type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestConfig bounds the ingestion pipeline.
type IngestConfig struct {
	ChunkWindow      int
	ChunkOverlap     int
	MaxDocumentBytes int64

	// MaxFailureFraction is the fraction of chunks allowed to fail
	// embedding before the whole document is aborted and rolled back.
	MaxFailureFraction float64

	// ClaimBatchSize caps how many pending documents one poll claims.
	ClaimBatchSize int

	// EmbedRequestsPerSecond throttles outbound embedding calls across
	// all documents being processed.
	EmbedRequestsPerSecond float64
}

// DefaultIngestConfig provides sane defaults for ingestion.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkWindow:            500,
		ChunkOverlap:           80,
		MaxDocumentBytes:       10 << 20,
		MaxFailureFraction:     0.2,
		ClaimBatchSize:         4,
		EmbedRequestsPerSecond: 5,
	}
}

// IngestInput represents the input for ingesting a document
type IngestInput struct {
	WebsiteID string
	FileName  string
	MimeType  string
	Text      string
}

// IngestService accepts documents, stores their raw text, and turns pending
// documents into embedded chunks in the background.
type IngestService struct {
	docRepo   DocumentRepositoryInterface
	chunkRepo ChunkRepositoryInterface
	store     ObjectStore
	embedder  Embedder
	uuidGen   UUIDGenerator
	limiter   *rate.Limiter
	txRunner  TxRunner
	config    IngestConfig
	now       func() time.Time

	// inFlight guards against the same document being processed twice in
	// this process, on top of the DB-level claim.
	inFlight sync.Map
}

// NewIngestService creates a new IngestService instance
func NewIngestService(
	docRepo DocumentRepositoryInterface,
	chunkRepo ChunkRepositoryInterface,
	store ObjectStore,
	embedder Embedder,
	config IngestConfig,
) *IngestService {
	if config.ChunkWindow <= 0 {
		config.ChunkWindow = DefaultIngestConfig().ChunkWindow
	}
	if config.MaxDocumentBytes <= 0 {
		config.MaxDocumentBytes = DefaultIngestConfig().MaxDocumentBytes
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = DefaultIngestConfig().ClaimBatchSize
	}
	if config.EmbedRequestsPerSecond <= 0 {
		config.EmbedRequestsPerSecond = DefaultIngestConfig().EmbedRequestsPerSecond
	}

	return &IngestService{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		store:     store,
		embedder:  embedder,
		uuidGen:   &DefaultUUIDGenerator{},
		limiter:   rate.NewLimiter(rate.Limit(config.EmbedRequestsPerSecond), 1),
		config:    config,
		now:       time.Now,
	}
}

// WithTxRunner makes document deletion atomic across the chunk and
// document tables.
func (s *IngestService) WithTxRunner(runner TxRunner) *IngestService {
	s.txRunner = runner
	return s
}

// WithUUIDGen overrides the UUID generator (for testing).
func (s *IngestService) WithUUIDGen(gen UUIDGenerator) *IngestService {
	s.uuidGen = gen
	return s
}

// WithClock overrides the clock (for testing).
func (s *IngestService) WithClock(now func() time.Time) *IngestService {
	s.now = now
	return s
}

// Ingest validates and registers a document for asynchronous processing. The
// raw text is written to object storage and a pending document row is
// created; chunking and embedding happen later in the background worker.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Ingest", telemetry.SpanAttributes{
		WebsiteID: input.WebsiteID,
		Operation: "ingest",
	})
	defer span.End()

	if input.WebsiteID == "" {
		return nil, domain.ErrInvalidWebsiteID
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domain.ErrEmptyDocument
	}
	if int64(len(text)) > s.config.MaxDocumentBytes {
		return nil, domain.ErrDocumentTooLarge
	}

	sum := sha256.Sum256([]byte(text))
	id := s.uuidGen.NewString()
	storagePath := fmt.Sprintf("documents/%s/%s", input.WebsiteID, id)

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}

	if err := s.store.PutObject(ctx, storagePath, mimeType, []byte(text)); err != nil {
		span.SetError(err)
		return nil, domain.NewIngestionError(id, fmt.Errorf("store raw text: %w", err))
	}

	doc := domain.NewDocument(id, input.WebsiteID, input.FileName, storagePath, mimeType,
		hex.EncodeToString(sum[:]), int64(len(text)), s.now().UTC())

	if err := s.docRepo.Create(ctx, doc); err != nil {
		span.SetError(err)
		if delErr := s.store.DeleteObject(ctx, storagePath); delErr != nil {
			log.Printf("ingest: failed to clean up object %s: %v", storagePath, delErr)
		}
		return nil, err
	}

	return doc, nil
}

// ProcessPending claims a batch of pending documents and processes them
// concurrently. It returns the number of documents claimed.
func (s *IngestService) ProcessPending(ctx context.Context) (int, error) {
	docs, err := s.docRepo.ClaimPending(ctx, s.config.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim pending documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, doc := range docs {
		wg.Add(1)
		go func(d *domain.Document) {
			defer wg.Done()
			if err := s.ProcessDocument(ctx, d); err != nil {
				log.Printf("ingest: document %s failed: %v", d.ID, err)
				telemetry.CaptureError(ctx, err)
			}
		}(doc)
	}
	wg.Wait()

	return len(docs), nil
}

// ProcessDocument chunks and embeds one claimed document. Individual chunk
// failures leave gaps in the index sequence; when more than the configured
// fraction of chunks fail, the document is rolled back and marked failed.
func (s *IngestService) ProcessDocument(ctx context.Context, doc *domain.Document) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.ProcessDocument", telemetry.SpanAttributes{
		WebsiteID:  doc.WebsiteID,
		DocumentID: doc.ID,
		Operation:  "process_document",
	})
	defer span.End()

	if _, loaded := s.inFlight.LoadOrStore(doc.ID, struct{}{}); loaded {
		return nil
	}
	defer s.inFlight.Delete(doc.ID)

	raw, err := s.store.GetObject(ctx, doc.StoragePath)
	if err != nil {
		return s.fail(ctx, span, doc, fmt.Errorf("fetch raw text: %w", err))
	}

	segments := ChunkText(string(raw), ChunkConfig{
		Window:  s.config.ChunkWindow,
		Overlap: s.config.ChunkOverlap,
	})
	if len(segments) == 0 {
		return s.fail(ctx, span, doc, fmt.Errorf("document produced no chunks"))
	}

	chunks := make([]*domain.Chunk, 0, len(segments))
	failed := 0
	for i, segment := range segments {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.fail(ctx, span, doc, err)
		}

		embedding, err := s.embedder.GenerateEmbedding(ctx, segment)
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(ctx, span, doc, ctx.Err())
			}
			failed++
			log.Printf("ingest: document %s chunk %d embedding failed: %v", doc.ID, i, err)
			if s.aborts(failed, len(segments)) {
				return s.rollback(ctx, span, doc, fmt.Errorf("%d of %d chunks failed embedding", failed, len(segments)))
			}
			continue
		}

		chunks = append(chunks, &domain.Chunk{
			ID:         s.uuidGen.NewString(),
			WebsiteID:  doc.WebsiteID,
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    segment,
			Embedding:  embedding,
			CreatedAt:  s.now().UTC(),
		})
	}

	if len(chunks) == 0 {
		return s.rollback(ctx, span, doc, fmt.Errorf("all %d chunks failed embedding", len(segments)))
	}

	if err := s.chunkRepo.InsertChunks(ctx, chunks); err != nil {
		return s.rollback(ctx, span, doc, fmt.Errorf("insert chunks: %w", err))
	}

	if err := s.docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusReady, failed); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}

	return nil
}

// aborts reports whether the failure count crosses the abort threshold.
func (s *IngestService) aborts(failed, total int) bool {
	return float64(failed)/float64(total) > s.config.MaxFailureFraction
}

// fail marks the document failed without touching chunks.
func (s *IngestService) fail(ctx context.Context, span *telemetry.Span, doc *domain.Document, cause error) error {
	span.SetError(cause)
	if err := s.docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusFailed, doc.FailedChunks); err != nil {
		log.Printf("ingest: failed to mark document %s failed: %v", doc.ID, err)
	}
	return domain.NewIngestionError(doc.ID, cause)
}

// rollback removes any chunks written for the document and marks it failed.
// The raw object and the document row stay so the failure is inspectable and
// the document can be re-ingested.
func (s *IngestService) rollback(ctx context.Context, span *telemetry.Span, doc *domain.Document, cause error) error {
	if err := s.chunkRepo.DeleteByDocument(ctx, doc.ID); err != nil {
		log.Printf("ingest: rollback of document %s chunks failed: %v", doc.ID, err)
	}
	return s.fail(ctx, span, doc, cause)
}

// GetDocument returns a document owned by the website.
func (s *IngestService) GetDocument(ctx context.Context, websiteID, documentID string) (*domain.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	// Ownership mismatch reads as absence so one tenant cannot probe
	// another's document IDs.
	if doc.WebsiteID != websiteID {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// ListDocumentsInput represents the input for listing documents
type ListDocumentsInput struct {
	WebsiteID string
	Cursor    string
	Limit     int
}

// ListDocumentsOutput represents a page of documents
type ListDocumentsOutput struct {
	Items   []*domain.Document
	Cursor  string
	HasMore bool
}

// ListDocuments returns a page of the website's documents, newest first.
func (s *IngestService) ListDocuments(ctx context.Context, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	if input.WebsiteID == "" {
		return nil, domain.ErrInvalidWebsiteID
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var cursor *pagination.Cursor
	if input.Cursor != "" {
		parsed, err := pagination.DecodeCursor(input.Cursor)
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
		}
		cursor = parsed
	}

	page, err := s.docRepo.ListByWebsiteWithCursor(ctx, input.WebsiteID, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListDocumentsOutput{
		Items:   page.Items,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	}, nil
}

// DeleteDocument removes a document, its chunks, and its stored raw text.
func (s *IngestService) DeleteDocument(ctx context.Context, websiteID, documentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.DeleteDocument", telemetry.SpanAttributes{
		WebsiteID:  websiteID,
		DocumentID: documentID,
		Operation:  "delete_document",
	})
	defer span.End()

	doc, err := s.GetDocument(ctx, websiteID, documentID)
	if err != nil {
		return err
	}

	if err := s.deleteRows(ctx, doc.ID); err != nil {
		span.SetError(err)
		return err
	}
	if err := s.store.DeleteObject(ctx, doc.StoragePath); err != nil {
		// The row is gone; a dangling object is tolerable.
		log.Printf("ingest: failed to delete object %s: %v", doc.StoragePath, err)
	}

	return nil
}

// deleteRows removes the document row and its chunks, transactionally when
// a TxRunner is configured.
func (s *IngestService) deleteRows(ctx context.Context, documentID string) error {
	if s.txRunner != nil {
		return s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Chunks().DeleteByDocument(ctx, documentID); err != nil {
				return err
			}
			return repos.Documents().Delete(ctx, documentID)
		})
	}

	if err := s.chunkRepo.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return s.docRepo.Delete(ctx, documentID)
}
