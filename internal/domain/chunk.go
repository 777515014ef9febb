package domain

import "time"

// Chunk represents an indexed, embedded segment of a document. The website
// ID is denormalized from the owning document so retrieval can enforce
// tenant isolation in a single predicate. (document_id, chunk_index) is
// unique; a failed chunk leaves a gap in the index sequence rather than
// renumbering its successors.
type Chunk struct {
	ID         string
	WebsiteID  string
	DocumentID string
	ChunkIndex int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ChunkMatch is a similarity-search result row for a single chunk.
type ChunkMatch struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Content    string
	Similarity float32
}
