package document

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/models"
)

func newDoc(t *testing.T, s *MemoryStore) uuid.UUID {
	t.Helper()
	doc := &models.Document{UserID: "user-1", FileName: "a.pdf", FileType: "application/pdf"}
	if err := s.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return doc.ID
}

func startRun(t *testing.T, s *MemoryStore, id uuid.UUID, total, priority int) uuid.UUID {
	t.Helper()
	run := uuid.New()
	if err := s.ResetIndexing(context.Background(), id, ResetRequest{RunID: run, TotalChunks: total, PriorityChunkCount: priority}); err != nil {
		t.Fatalf("ResetIndexing: %v", err)
	}
	return run
}

func TestCreateDefaults(t *testing.T) {
	s := NewMemoryStore()
	id := newDoc(t, s)

	doc, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ProcessingStatus != models.DocStatusPending {
		t.Errorf("status = %q", doc.ProcessingStatus)
	}
	if doc.Indexing.Status != models.RAGStatusNotStarted {
		t.Errorf("rag status = %q", doc.Indexing.Status)
	}
	if _, err := s.Get(context.Background(), uuid.New()); err != ErrNotFound {
		t.Errorf("missing document err = %v", err)
	}
}

func TestProgressiveStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)
	run := startRun(t, s, id, 500, 100)

	if err := s.BeginPriority(ctx, id, run); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, id)
	if doc.Indexing.Status != models.RAGStatusPriorityIndexing {
		t.Fatalf("status = %q", doc.Indexing.Status)
	}

	state, applied, err := s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: "priority", Count: 100, Priority: true})
	if err != nil || !applied {
		t.Fatalf("record priority: applied=%v err=%v", applied, err)
	}
	if state.Status != models.RAGStatusPriorityComplete || !state.PriorityChunksIndexed {
		t.Errorf("after priority: %+v", state)
	}

	state, _, _ = s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: "batch-0", Count: 50})
	if state.Status != models.RAGStatusFullIndexing || state.IndexedChunks != 150 {
		t.Errorf("after first batch: %+v", state)
	}

	for i := 1; i < 8; i++ {
		state, _, _ = s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: fmt.Sprintf("batch-%d", i), Count: 50})
	}
	if state.Status != models.RAGStatusCompleted || state.IndexedChunks != 500 || !state.Indexed || state.ChunkCount != 500 {
		t.Errorf("after all batches: %+v", state)
	}
}

func TestRedeliveredUnitIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)
	run := startRun(t, s, id, 200, 40)

	for i := 0; i < 3; i++ {
		state, applied, err := s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: "batch-2", Count: 50})
		if err != nil {
			t.Fatal(err)
		}
		if applied != (i == 0) {
			t.Errorf("delivery %d applied=%v", i, applied)
		}
		if state.IndexedChunks != 50 {
			t.Errorf("delivery %d indexed=%d, want 50", i, state.IndexedChunks)
		}
	}
}

func TestStaleRunIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)
	oldRun := startRun(t, s, id, 100, 20)
	newRun := startRun(t, s, id, 100, 20)

	_, applied, _ := s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: oldRun, Key: "batch-0", Count: 50})
	if applied {
		t.Error("unit from a superseded run must not count")
	}
	if err := s.CompleteIndexing(ctx, id, oldRun, 100); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, id)
	if doc.Indexing.Status != models.RAGStatusNotStarted || *doc.Indexing.RunID != newRun {
		t.Errorf("stale completion changed state: %+v", doc.Indexing)
	}
}

func TestBatchOrderIndependence(t *testing.T) {
	ctx := context.Background()
	units := []IndexedUnit{{Key: "priority", Count: 100, Priority: true}}
	for i := 0; i < 8; i++ {
		units = append(units, IndexedUnit{Key: fmt.Sprintf("batch-%d", i), Count: 50})
	}

	for seed := int64(0); seed < 20; seed++ {
		s := NewMemoryStore()
		id := newDoc(t, s)
		run := startRun(t, s, id, 500, 100)

		order := rand.New(rand.NewSource(seed)).Perm(len(units))
		last := 0
		for _, i := range order {
			u := units[i]
			u.RunID = run
			state, _, err := s.RecordIndexedUnit(ctx, id, u)
			if err != nil {
				t.Fatal(err)
			}
			if state.IndexedChunks < last {
				t.Fatalf("seed %d: indexed went from %d to %d", seed, last, state.IndexedChunks)
			}
			last = state.IndexedChunks
		}
		doc, _ := s.Get(ctx, id)
		if doc.Indexing.Status != models.RAGStatusCompleted || doc.Indexing.IndexedChunks != 500 {
			t.Errorf("seed %d: final %+v", seed, doc.Indexing)
		}
	}
}

func TestConcurrentUnits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)
	run := startRun(t, s, id, 1000, 100)

	var wg sync.WaitGroup
	for i := 0; i < 18; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: fmt.Sprintf("batch-%d", i), Count: 50})
		}()
	}
	wg.Wait()

	doc, _ := s.Get(ctx, id)
	if doc.Indexing.IndexedChunks != 900 {
		t.Errorf("indexed = %d, want 900", doc.Indexing.IndexedChunks)
	}
	if doc.Indexing.Status != models.RAGStatusPriorityIndexing {
		t.Errorf("status = %q without priority unit", doc.Indexing.Status)
	}
}

func TestFailedIndexingIsSticky(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)
	run := startRun(t, s, id, 300, 60)

	s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: "priority", Count: 60, Priority: true})
	if err := s.MarkIndexingFailed(ctx, id, run, "batch 2 failed"); err != nil {
		t.Fatal(err)
	}
	state, _, _ := s.RecordIndexedUnit(ctx, id, IndexedUnit{RunID: run, Key: "batch-0", Count: 50})
	if state.Status != models.RAGStatusFailed {
		t.Errorf("status = %q, want failed", state.Status)
	}
	if !state.PriorityChunksIndexed {
		t.Error("priority flag must not revert")
	}

	// Retrying starts a new run from zero.
	newRun := startRun(t, s, id, 300, 60)
	doc, _ := s.Get(ctx, id)
	if doc.Indexing.Status != models.RAGStatusNotStarted || doc.Indexing.IndexedChunks != 0 || doc.Indexing.Error != nil {
		t.Errorf("reset state: %+v", doc.Indexing)
	}
	if *doc.Indexing.RunID != newRun {
		t.Error("run id not replaced")
	}
}

func TestMarkFailedMetadata(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := newDoc(t, s)

	if err := s.SaveExtraction(ctx, id, ExtractionRecord{Text: "hello", Method: "pdf-parse", PageCount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, id, Failure{Message: "boom", Reason: models.FailureReasonTimeout, Step: "extract-text"}); err != nil {
		t.Fatal(err)
	}

	doc, _ := s.Get(ctx, id)
	if doc.ProcessingStatus != models.DocStatusFailed || doc.ErrorMessage == nil || *doc.ErrorMessage != "boom" {
		t.Fatalf("doc = %+v", doc)
	}
	var meta map[string]any
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["failure_reason"] != "timeout" || meta["failed_step"] != "extract-text" {
		t.Errorf("metadata = %v", meta)
	}
	if meta["processing_method"] != "pdf-parse" {
		t.Errorf("extraction metadata lost: %v", meta)
	}
}
