package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/verity-labs/docvox/internal/domain"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// SearchRepository runs similarity search over stored chunks.
type SearchRepository interface {
	SearchChunks(ctx context.Context, websiteID string, embedding []float32, threshold float32, limit int) ([]domain.ChunkMatch, error)
}

// RetrievalConfig bounds the retrieval stage.
type RetrievalConfig struct {
	TopK                int
	SimilarityThreshold float32
	MaxContextChars     int
	PerDocumentCap      int
	Timeout             time.Duration
}

// DefaultRetrievalConfig provides sane defaults for retrieval.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                8,
		SimilarityThreshold: 0.25,
		MaxContextChars:     6000,
		PerDocumentCap:      3,
		Timeout:             15 * time.Second,
	}
}

// RetrievedContext is the assembled grounding material for one query.
type RetrievedContext struct {
	Text          string
	Matches       []domain.ChunkMatch
	TopScore      float32
	DocumentCount int
	TotalChars    int
}

// Empty reports whether retrieval produced no usable context.
func (r RetrievedContext) Empty() bool {
	return len(r.Matches) == 0
}

// RetrievalService embeds a query and assembles matching chunks into a
// bounded context block.
type RetrievalService struct {
	embedder Embedder
	repo     SearchRepository
	config   RetrievalConfig
}

// NewRetrievalService creates a retrieval service.
func NewRetrievalService(embedder Embedder, repo SearchRepository, config RetrievalConfig) *RetrievalService {
	if config.TopK <= 0 {
		config.TopK = DefaultRetrievalConfig().TopK
	}
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = DefaultRetrievalConfig().MaxContextChars
	}
	if config.PerDocumentCap <= 0 {
		config.PerDocumentCap = DefaultRetrievalConfig().PerDocumentCap
	}
	return &RetrievalService{
		embedder: embedder,
		repo:     repo,
		config:   config,
	}
}

// Retrieve embeds query and returns the most similar chunks for the website,
// assembled into a context block. A query matching nothing is not an error:
// the caller receives an empty context.
func (s *RetrievalService) Retrieve(ctx context.Context, websiteID string, query string) (RetrievedContext, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return RetrievedContext{}, domain.ErrEmptyMessage
	}
	if websiteID == "" {
		return RetrievedContext{}, domain.ErrInvalidWebsiteID
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return RetrievedContext{}, domain.NewRetrievalError(err)
	}

	matches, err := s.repo.SearchChunks(ctx, websiteID, embedding, s.config.SimilarityThreshold, s.config.TopK)
	if err != nil {
		return RetrievedContext{}, domain.NewRetrievalError(err)
	}
	if len(matches) == 0 {
		return RetrievedContext{}, nil
	}

	return s.assemble(matches), nil
}

// assemble orders matches, applies the per-document cap and the character
// budget, and joins the surviving chunks. A chunk is included whole or not
// at all.
func (s *RetrievalService) assemble(matches []domain.ChunkMatch) RetrievedContext {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	perDoc := make(map[string]int)
	var (
		kept  []domain.ChunkMatch
		parts []string
		total int
	)
	for _, m := range matches {
		if perDoc[m.DocumentID] >= s.config.PerDocumentCap {
			continue
		}
		if total+len(m.Content) > s.config.MaxContextChars {
			continue
		}
		perDoc[m.DocumentID]++
		kept = append(kept, m)
		parts = append(parts, m.Content)
		total += len(m.Content)
	}

	if len(kept) == 0 {
		return RetrievedContext{}
	}

	return RetrievedContext{
		Text:          strings.Join(parts, "\n\n"),
		Matches:       kept,
		TopScore:      kept[0].Similarity,
		DocumentCount: len(perDoc),
		TotalChars:    total,
	}
}
