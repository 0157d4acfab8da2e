package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	FileName         string          `json:"file_name" db:"file_name"`
	FileType         string          `json:"file_type,omitempty" db:"file_type"`
	FileSizeBytes    int64           `json:"file_size_bytes,omitempty" db:"file_size_bytes"`
	StoragePath      string          `json:"storage_path,omitempty" db:"storage_path"`
	ProcessingStatus string          `json:"processing_status" db:"processing_status"`
	ExtractionMethod string          `json:"extraction_method,omitempty" db:"extraction_method"`
	ExtractedText    *string         `json:"-" db:"extracted_text"`
	PageCount        int             `json:"page_count" db:"page_count"`
	ErrorMessage     *string         `json:"error_message,omitempty" db:"error_message"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
	Indexing         IndexingState   `json:"indexing"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// IndexingState is the RAG sub-record of a document. IndexedChunks never
// exceeds TotalChunks and only grows within a run; PriorityChunksIndexed
// flips to true once per run.
type IndexingState struct {
	Status                string     `json:"rag_indexing_status" db:"rag_indexing_status"`
	RunID                 *uuid.UUID `json:"rag_run_id,omitempty" db:"rag_run_id"`
	TotalChunks           int        `json:"rag_total_chunks" db:"rag_total_chunks"`
	IndexedChunks         int        `json:"rag_indexed_chunks" db:"rag_indexed_chunks"`
	PriorityChunkCount    int        `json:"rag_priority_chunk_count" db:"rag_priority_chunk_count"`
	PriorityChunksIndexed bool       `json:"rag_priority_chunks_indexed" db:"rag_priority_chunks_indexed"`
	Indexed               bool       `json:"rag_indexed" db:"rag_indexed"`
	ChunkCount            int        `json:"rag_chunk_count" db:"rag_chunk_count"`
	Error                 *string    `json:"rag_error,omitempty" db:"rag_error"`
}

// Page is one page of extracted text with character offsets into the full text.
type Page struct {
	Number      int    `json:"pageNumber"`
	Text        string `json:"text"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

type DocumentChunk struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	DocumentID uuid.UUID       `json:"document_id" db:"document_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	ChunkIndex int             `json:"chunk_index" db:"chunk_index"`
	Content    string          `json:"content" db:"content"`
	Embedding  []float32       `json:"-" db:"embedding"`
	TokenCount int             `json:"token_count" db:"token_count"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusNeedsOCR   = "needs_ocr"
	DocStatusFailed     = "failed"
)

const (
	RAGStatusNotStarted       = "not_started"
	RAGStatusPriorityIndexing = "priority_indexing"
	RAGStatusPriorityComplete = "priority_complete"
	RAGStatusFullIndexing     = "full_indexing"
	RAGStatusCompleted        = "completed"
	RAGStatusFailed           = "failed"
)

const (
	FailureReasonTimeout = "timeout"
	FailureReasonError   = "error"
)

// IsTerminal reports whether a processing status is final.
func IsTerminal(status string) bool {
	switch status {
	case DocStatusCompleted, DocStatusNeedsOCR, DocStatusFailed:
		return true
	}
	return false
}
