// Package status derives user-facing progress from the persisted document
// record. It never writes.
package status

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/models"
)

// SecondsPerChunk is the amortised background indexing rate used for the
// remaining-time estimate.
const SecondsPerChunk = 0.3

type IndexingStatus struct {
	DocumentID             uuid.UUID `json:"documentId"`
	ProcessingStatus       string    `json:"processingStatus"`
	Phase                  string    `json:"phase"`
	PriorityComplete       bool      `json:"priorityComplete"`
	ChunksIndexed          int       `json:"chunksIndexed"`
	ChunksTotal            int       `json:"chunksTotal"`
	PercentComplete        int       `json:"percentComplete"`
	EstimatedTimeRemaining int       `json:"estimatedTimeRemaining"` // seconds
	CanChat                bool      `json:"canChat"`
	Error                  *string   `json:"error,omitempty"`
}

// Derive computes the status with the default indexing rate.
func Derive(doc *models.Document) IndexingStatus {
	return DeriveWithRate(doc, SecondsPerChunk)
}

func DeriveWithRate(doc *models.Document, secondsPerChunk float64) IndexingStatus {
	s := doc.Indexing
	out := IndexingStatus{
		DocumentID:       doc.ID,
		ProcessingStatus: doc.ProcessingStatus,
		Phase:            s.Status,
		PriorityComplete: s.PriorityChunksIndexed,
		ChunksIndexed:    s.IndexedChunks,
		ChunksTotal:      s.TotalChunks,
		CanChat:          CanChat(s),
		Error:            s.Error,
	}
	if out.Phase == "" {
		out.Phase = models.RAGStatusNotStarted
	}

	if s.TotalChunks > 0 {
		out.PercentComplete = int(math.Round(float64(s.IndexedChunks) / float64(s.TotalChunks) * 100))
		remaining := max(s.TotalChunks-s.IndexedChunks, 0)
		out.EstimatedTimeRemaining = int(math.Ceil(float64(remaining) * secondsPerChunk))
	}
	if s.Status == models.RAGStatusCompleted {
		out.PercentComplete = 100
		out.EstimatedTimeRemaining = 0
	}
	return out
}

// CanChat reports whether enough of the document is indexed to answer
// questions. Indexed covers records written before progressive indexing.
func CanChat(s models.IndexingState) bool {
	return s.PriorityChunksIndexed || s.Status == models.RAGStatusCompleted || s.Indexed
}

type Service struct {
	reader          document.Reader
	secondsPerChunk float64
}

func NewService(reader document.Reader, secondsPerChunk float64) *Service {
	if secondsPerChunk <= 0 {
		secondsPerChunk = SecondsPerChunk
	}
	return &Service{reader: reader, secondsPerChunk: secondsPerChunk}
}

func (s *Service) IndexingStatus(ctx context.Context, id uuid.UUID) (IndexingStatus, error) {
	doc, err := s.reader.Get(ctx, id)
	if err != nil {
		return IndexingStatus{}, err
	}
	return DeriveWithRate(doc, s.secondsPerChunk), nil
}

// Derive computes the status of an already loaded document.
func (s *Service) Derive(doc *models.Document) IndexingStatus {
	return DeriveWithRate(doc, s.secondsPerChunk)
}
