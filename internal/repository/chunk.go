package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/verity-labs/docvox/internal/domain"
)

// ChunkRepository handles persistence and similarity search of embedded
// document chunks.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// InsertChunks writes the chunks of one document.
func (r *ChunkRepository) InsertChunks(ctx context.Context, chunks []*domain.Chunk) error {
	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks
				(id, website_id, document_id, chunk_index, content, embedding, created_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7)`,
			c.ID,
			c.WebsiteID,
			c.DocumentID,
			c.ChunkIndex,
			c.Content,
			pgvector.NewVector(c.Embedding),
			createdAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteByDocument removes all chunks of a document.
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// SearchChunks returns the website's chunks most similar to the embedding,
// best first. Similarity is cosine: 1 - (embedding <=> query). Rows below
// threshold are excluded; ties order by chunk_index.
func (r *ChunkRepository) SearchChunks(ctx context.Context, websiteID string, embedding []float32, threshold float32, limit int) ([]domain.ChunkMatch, error) {
	if limit <= 0 {
		limit = 8
	}

	vec := pgvector.NewVector(embedding)

	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, chunk_index, content, 1 - (embedding <=> $1) AS similarity
		 FROM document_chunks
		 WHERE website_id = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1, chunk_index ASC
		 LIMIT $4`,
		vec, websiteID, threshold, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.ChunkMatch, 0)
	for rows.Next() {
		var m domain.ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.ChunkIndex, &m.Content, &m.Similarity); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// CountByDocument returns the number of stored chunks for a document.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`,
		documentID,
	).Scan(&count)
	return count, err
}
