package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PgVectorStore struct {
	db *pgxpool.Pool
}

func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

func (s *PgVectorStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO document_chunks (id, document_id, user_id, chunk_index, content, embedding, token_count, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (document_id, chunk_index)
			 DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding,
			               token_count = EXCLUDED.token_count, metadata = EXCLUDED.metadata`,
			uuid.New(), c.DocumentID, c.UserID, c.ChunkIndex, c.Content,
			pgvector.NewVector(c.Embedding), c.TokenCount, metadata,
		)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for _, c := range chunks {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("upsert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PgVectorStore) DeleteFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM document_chunks WHERE document_id = $1 AND chunk_index >= $2",
		documentID, fromIndex)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}
