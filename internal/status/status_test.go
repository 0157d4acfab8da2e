package status

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/models"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name      string
		state     models.IndexingState
		canChat   bool
		percent   int
		remaining int
	}{
		{"not started", models.IndexingState{Status: models.RAGStatusNotStarted}, false, 0, 0},
		{"priority running", models.IndexingState{Status: models.RAGStatusPriorityIndexing, TotalChunks: 500, IndexedChunks: 50}, false, 10, 135},
		{"priority done", models.IndexingState{Status: models.RAGStatusPriorityComplete, TotalChunks: 500, IndexedChunks: 100, PriorityChunksIndexed: true}, true, 20, 120},
		{"rounding", models.IndexingState{Status: models.RAGStatusFullIndexing, TotalChunks: 3, IndexedChunks: 2, PriorityChunksIndexed: true}, true, 67, 1},
		{"completed", models.IndexingState{Status: models.RAGStatusCompleted, TotalChunks: 30, IndexedChunks: 30, Indexed: true}, true, 100, 0},
		{"legacy indexed flag", models.IndexingState{Status: models.RAGStatusNotStarted, Indexed: true}, true, 0, 0},
		{"failed after priority", models.IndexingState{Status: models.RAGStatusFailed, TotalChunks: 200, IndexedChunks: 40, PriorityChunksIndexed: true}, true, 20, 48},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(&models.Document{Indexing: tt.state})
			if got.CanChat != tt.canChat {
				t.Errorf("CanChat = %v, want %v", got.CanChat, tt.canChat)
			}
			if got.PercentComplete != tt.percent {
				t.Errorf("PercentComplete = %d, want %d", got.PercentComplete, tt.percent)
			}
			if got.EstimatedTimeRemaining != tt.remaining {
				t.Errorf("EstimatedTimeRemaining = %d, want %d", got.EstimatedTimeRemaining, tt.remaining)
			}
		})
	}
}

func TestServiceIndexingStatus(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemoryStore()
	doc := &models.Document{UserID: "u", FileName: "a.pdf"}
	if err := store.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	svc := NewService(store, 0)
	st, err := svc.IndexingStatus(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Phase != models.RAGStatusNotStarted || st.CanChat || st.ProcessingStatus != models.DocStatusPending {
		t.Errorf("status = %+v", st)
	}

	if _, err := svc.IndexingStatus(ctx, uuid.New()); err != document.ErrNotFound {
		t.Errorf("missing document err = %v", err)
	}
}
