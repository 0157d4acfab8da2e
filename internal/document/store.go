package document

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/models"
)

var ErrNotFound = errors.New("document not found")

// Reader is the read side of the document record. Everything outside the job
// pipelines only needs this.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
}

// Store owns the document record. Every write is idempotent for a given
// input so a retried step converges on the same row.
type Store interface {
	Reader

	Create(ctx context.Context, doc *models.Document) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SaveExtraction(ctx context.Context, id uuid.UUID, rec ExtractionRecord) error
	// SetTerminal writes a final processing status. An empty message clears error_message.
	SetTerminal(ctx context.Context, id uuid.UUID, status, message string, meta map[string]any) error
	MarkFailed(ctx context.Context, id uuid.UUID, f Failure) error

	ResetIndexing(ctx context.Context, id uuid.UUID, req ResetRequest) error
	BeginPriority(ctx context.Context, id, runID uuid.UUID) error
	// RecordIndexedUnit adds count to the run's indexed chunks the first time
	// unitKey is seen. applied is false for duplicates and superseded runs.
	RecordIndexedUnit(ctx context.Context, id uuid.UUID, u IndexedUnit) (state models.IndexingState, applied bool, err error)
	CompleteIndexing(ctx context.Context, id, runID uuid.UUID, chunkCount int) error
	// MarkIndexingFailed fails the given run. uuid.Nil targets whatever run is current.
	MarkIndexingFailed(ctx context.Context, id, runID uuid.UUID, message string) error
}

type ExtractionRecord struct {
	Text      string
	Method    string
	PageCount int
	Pages     []models.Page
}

// Metadata is merged into documents.metadata alongside the text.
func (r ExtractionRecord) Metadata() map[string]any {
	meta := map[string]any{
		"processing_method": r.Method,
		"text_length":       len([]rune(r.Text)),
		"page_count":        r.PageCount,
	}
	if len(r.Pages) > 0 {
		meta["pages"] = r.Pages
	}
	return meta
}

type Failure struct {
	Message string
	Reason  string // models.FailureReasonTimeout or models.FailureReasonError
	Step    string
}

type ResetRequest struct {
	RunID              uuid.UUID
	TotalChunks        int
	PriorityChunkCount int
}

type IndexedUnit struct {
	RunID    uuid.UUID
	Key      string
	Count    int
	Priority bool
}

// nextIndexingState applies one acknowledged unit to s.
func nextIndexingState(s models.IndexingState, count int, priority bool) models.IndexingState {
	s.IndexedChunks = min(s.IndexedChunks+count, s.TotalChunks)
	s.PriorityChunksIndexed = s.PriorityChunksIndexed || priority

	switch {
	case s.IndexedChunks >= s.TotalChunks:
		s.Status = models.RAGStatusCompleted
		s.Indexed = true
		s.ChunkCount = s.TotalChunks
	case s.Status == models.RAGStatusFailed:
	case s.PriorityChunksIndexed && s.IndexedChunks > s.PriorityChunkCount:
		s.Status = models.RAGStatusFullIndexing
	case s.PriorityChunksIndexed:
		s.Status = models.RAGStatusPriorityComplete
	default:
		s.Status = models.RAGStatusPriorityIndexing
	}
	return s
}
