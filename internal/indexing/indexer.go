package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/embedding"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
	"github.com/nikhilbhutani/docingest/pkg/chunker"
	"github.com/nikhilbhutani/docingest/pkg/tokenizer"
)

var (
	// ErrVectorStore marks a failure to embed or persist chunks. It fails the
	// indexing run, never the document's extraction.
	ErrVectorStore = errors.New("vector store failure")
	ErrNoContent   = errors.New("no content to index")
)

type Indexer struct {
	embedder  embedding.Embedder
	store     vectorstore.Writer
	chunkSize int
}

func NewIndexer(embedder embedding.Embedder, store vectorstore.Writer, chunkSize int) *Indexer {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultChunkSize
	}
	return &Indexer{embedder: embedder, store: store, chunkSize: chunkSize}
}

// IndexDocument segments text and indexes every chunk in one pass. It
// returns the number of chunks written.
func (ix *Indexer) IndexDocument(ctx context.Context, docID uuid.UUID, userID, text string) (int, error) {
	chunks := chunker.Segment(text, ix.chunkSize)
	if len(chunks) == 0 {
		return 0, ErrNoContent
	}
	if err := ix.IndexChunks(ctx, docID, userID, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// IndexChunks embeds chunks and upserts them keyed by their document-wide
// index, so re-indexing the same unit overwrites rather than duplicates.
func (ix *Indexer) IndexChunks(ctx context.Context, docID uuid.UUID, userID string, chunks []chunker.TextChunk) error {
	if len(chunks) == 0 {
		return ErrNoContent
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: generate embeddings: %w", ErrVectorStore, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks", ErrVectorStore, len(vectors), len(chunks))
	}

	rows := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = vectorstore.Chunk{
			DocumentID: docID,
			UserID:     userID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  vectors[i],
			TokenCount: tokenizer.CountTokens(c.Content),
			Metadata:   map[string]any{"chunk_index": c.Index},
		}
	}

	if err := ix.store.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("%w: store chunks: %w", ErrVectorStore, err)
	}
	return nil
}
