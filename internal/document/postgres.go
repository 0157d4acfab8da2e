package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docingest/internal/models"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const documentColumns = `id, user_id, file_name, file_type, file_size_bytes, storage_path,
	processing_status, COALESCE(extraction_method, ''), extracted_text, page_count, error_message, metadata,
	rag_indexing_status, rag_run_id, rag_total_chunks, rag_indexed_chunks, rag_priority_chunk_count,
	rag_priority_chunks_indexed, rag_indexed, rag_chunk_count, rag_error, created_at, updated_at`

const indexingColumns = `rag_indexing_status, rag_run_id, rag_total_chunks, rag_indexed_chunks,
	rag_priority_chunk_count, rag_priority_chunks_indexed, rag_indexed, rag_chunk_count, rag_error`

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var d models.Document
	err := s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id).Scan(
		&d.ID, &d.UserID, &d.FileName, &d.FileType, &d.FileSizeBytes, &d.StoragePath,
		&d.ProcessingStatus, &d.ExtractionMethod, &d.ExtractedText, &d.PageCount, &d.ErrorMessage, &d.Metadata,
		&d.Indexing.Status, &d.Indexing.RunID, &d.Indexing.TotalChunks, &d.Indexing.IndexedChunks,
		&d.Indexing.PriorityChunkCount, &d.Indexing.PriorityChunksIndexed, &d.Indexing.Indexed,
		&d.Indexing.ChunkCount, &d.Indexing.Error, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = models.DocStatusPending
	}
	meta := doc.Metadata
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, user_id, file_name, file_type, file_size_bytes, storage_path, processing_status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		 RETURNING rag_indexing_status, created_at, updated_at`,
		doc.ID, doc.UserID, doc.FileName, doc.FileType, doc.FileSizeBytes, doc.StoragePath, doc.ProcessingStatus, string(meta),
	).Scan(&doc.Indexing.Status, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, op string, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "mark processing",
		`UPDATE documents SET processing_status = $2, error_message = NULL, updated_at = now() WHERE id = $1`,
		id, models.DocStatusProcessing)
}

func (s *PostgresStore) SaveExtraction(ctx context.Context, id uuid.UUID, rec ExtractionRecord) error {
	return s.exec(ctx, "save extraction",
		`UPDATE documents
		 SET extracted_text = $2, extraction_method = $3, page_count = $4,
		     metadata = metadata || $5::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, rec.Text, rec.Method, rec.PageCount, rec.Metadata())
}

func (s *PostgresStore) SetTerminal(ctx context.Context, id uuid.UUID, status, message string, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	return s.exec(ctx, "set terminal status",
		`UPDATE documents
		 SET processing_status = $2, error_message = $3, metadata = metadata || $4::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, status, nullable(message), meta)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, f Failure) error {
	return s.exec(ctx, "mark failed",
		`UPDATE documents
		 SET processing_status = $2, error_message = $3, metadata = metadata || $4::jsonb, updated_at = now()
		 WHERE id = $1`,
		id, models.DocStatusFailed, nullable(f.Message), failureMetadata(f, time.Now()))
}

func (s *PostgresStore) ResetIndexing(ctx context.Context, id uuid.UUID, req ResetRequest) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE documents
		 SET rag_indexing_status = $2, rag_run_id = $3, rag_total_chunks = $4, rag_indexed_chunks = 0,
		     rag_priority_chunk_count = $5, rag_priority_chunks_indexed = false,
		     rag_indexed = false, rag_chunk_count = 0, rag_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id, models.RAGStatusNotStarted, req.RunID, req.TotalChunks, req.PriorityChunkCount)
	if err != nil {
		return fmt.Errorf("reset indexing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_index_units WHERE document_id = $1 AND run_id <> $2`, id, req.RunID); err != nil {
		return fmt.Errorf("clear unit ledger: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) BeginPriority(ctx context.Context, id, runID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET rag_indexing_status = $3, updated_at = now()
		 WHERE id = $1 AND rag_run_id = $2 AND rag_indexing_status = $4`,
		id, runID, models.RAGStatusPriorityIndexing, models.RAGStatusNotStarted)
	if err != nil {
		return fmt.Errorf("begin priority indexing: %w", err)
	}
	return nil
}

// RecordIndexedUnit inserts the ledger row and increments the counters in one
// transaction. The increment is computed from the row's current values inside
// the UPDATE, so concurrent batches never lose each other's counts.
func (s *PostgresStore) RecordIndexedUnit(ctx context.Context, id uuid.UUID, u IndexedUnit) (models.IndexingState, bool, error) {
	var state models.IndexingState

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return state, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO document_index_units (document_id, run_id, unit_key, chunk_count)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		id, u.RunID, u.Key, u.Count)
	if err != nil {
		return state, false, fmt.Errorf("record unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		state, err := s.indexingState(ctx, id)
		return state, false, err
	}

	err = scanIndexingState(tx.QueryRow(ctx,
		`UPDATE documents SET
		    rag_indexed_chunks = LEAST(rag_indexed_chunks + $3, rag_total_chunks),
		    rag_priority_chunks_indexed = rag_priority_chunks_indexed OR $4,
		    rag_indexing_status = CASE
		        WHEN rag_indexed_chunks + $3 >= rag_total_chunks THEN 'completed'
		        WHEN rag_indexing_status = 'failed' THEN 'failed'
		        WHEN (rag_priority_chunks_indexed OR $4)
		             AND LEAST(rag_indexed_chunks + $3, rag_total_chunks) > rag_priority_chunk_count THEN 'full_indexing'
		        WHEN (rag_priority_chunks_indexed OR $4) THEN 'priority_complete'
		        ELSE 'priority_indexing'
		    END,
		    rag_indexed = rag_indexed OR rag_indexed_chunks + $3 >= rag_total_chunks,
		    rag_chunk_count = CASE WHEN rag_indexed_chunks + $3 >= rag_total_chunks
		        THEN rag_total_chunks ELSE rag_chunk_count END,
		    updated_at = now()
		 WHERE id = $1 AND rag_run_id = $2
		 RETURNING `+indexingColumns,
		id, u.RunID, u.Count, u.Priority), &state)
	if errors.Is(err, pgx.ErrNoRows) {
		// Superseded run: the deferred rollback discards the ledger row too.
		state, err := s.indexingState(ctx, id)
		return state, false, err
	}
	if err != nil {
		return state, false, fmt.Errorf("increment indexed chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return state, false, fmt.Errorf("commit unit: %w", err)
	}
	return state, true, nil
}

func (s *PostgresStore) CompleteIndexing(ctx context.Context, id, runID uuid.UUID, chunkCount int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents
		 SET rag_indexing_status = $3, rag_total_chunks = $4, rag_indexed_chunks = $4,
		     rag_indexed = true, rag_chunk_count = $4, rag_error = NULL, updated_at = now()
		 WHERE id = $1 AND rag_run_id = $2`,
		id, runID, models.RAGStatusCompleted, chunkCount)
	if err != nil {
		return fmt.Errorf("complete indexing: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkIndexingFailed(ctx context.Context, id, runID uuid.UUID, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE documents
		 SET rag_indexing_status = $3, rag_error = $4, updated_at = now()
		 WHERE id = $1 AND ($2 = '00000000-0000-0000-0000-000000000000'::uuid OR rag_run_id = $2)
		   AND rag_indexing_status <> $5`,
		id, runID, models.RAGStatusFailed, nullable(message), models.RAGStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark indexing failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) indexingState(ctx context.Context, id uuid.UUID) (models.IndexingState, error) {
	var state models.IndexingState
	err := scanIndexingState(s.db.QueryRow(ctx, `SELECT `+indexingColumns+` FROM documents WHERE id = $1`, id), &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("read indexing state: %w", err)
	}
	return state, nil
}

func scanIndexingState(row pgx.Row, s *models.IndexingState) error {
	return row.Scan(&s.Status, &s.RunID, &s.TotalChunks, &s.IndexedChunks, &s.PriorityChunkCount,
		&s.PriorityChunksIndexed, &s.Indexed, &s.ChunkCount, &s.Error)
}
