package vectorstore

import (
	"context"

	"github.com/google/uuid"
)

type Chunk struct {
	DocumentID uuid.UUID
	UserID     string
	ChunkIndex int
	Content    string
	Embedding  []float32
	TokenCount int
	Metadata   map[string]any
}

// Writer is the indexing side of the vector store. Upserts are keyed by
// (document, chunk index) so re-indexing a chunk replaces it.
type Writer interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	// DeleteFrom removes the document's chunks with index >= fromIndex.
	DeleteFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error
}
