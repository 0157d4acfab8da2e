package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/models"
)

// MemoryStore keeps documents in process. It backs tests and DB-less local runs.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*models.Document
	units  map[string]struct{}
	now    func() time.Time
	failOn map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[uuid.UUID]*models.Document),
		units:  make(map[string]struct{}),
		now:    time.Now,
		failOn: make(map[string]error),
	}
}

// FailNext makes the next call of op return err. Used to exercise failure paths.
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[op] = err
}

func (m *MemoryStore) injected(op string) error {
	if err, ok := m.failOn[op]; ok {
		delete(m.failOn, op)
		return err
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("Get"); err != nil {
		return nil, err
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	cp.Metadata = append(json.RawMessage(nil), d.Metadata...)
	return &cp, nil
}

func (m *MemoryStore) Create(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if _, exists := m.docs[doc.ID]; exists {
		return fmt.Errorf("insert document: duplicate id %s", doc.ID)
	}
	if doc.ProcessingStatus == "" {
		doc.ProcessingStatus = models.DocStatusPending
	}
	if doc.Indexing.Status == "" {
		doc.Indexing.Status = models.RAGStatusNotStarted
	}
	if len(doc.Metadata) == 0 {
		doc.Metadata = json.RawMessage(`{}`)
	}
	doc.CreatedAt = m.now()
	doc.UpdatedAt = doc.CreatedAt
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *MemoryStore) update(op string, id uuid.UUID, fn func(d *models.Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(op); err != nil {
		return err
	}
	d, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(d); err != nil {
		return err
	}
	d.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return m.update("MarkProcessing", id, func(d *models.Document) error {
		d.ProcessingStatus = models.DocStatusProcessing
		d.ErrorMessage = nil
		return nil
	})
}

func (m *MemoryStore) SaveExtraction(_ context.Context, id uuid.UUID, rec ExtractionRecord) error {
	return m.update("SaveExtraction", id, func(d *models.Document) error {
		text := rec.Text
		d.ExtractedText = &text
		d.ExtractionMethod = rec.Method
		d.PageCount = rec.PageCount
		return mergeMetadata(d, rec.Metadata())
	})
}

func (m *MemoryStore) SetTerminal(_ context.Context, id uuid.UUID, status, message string, meta map[string]any) error {
	return m.update("SetTerminal", id, func(d *models.Document) error {
		d.ProcessingStatus = status
		d.ErrorMessage = nullable(message)
		return mergeMetadata(d, meta)
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, f Failure) error {
	return m.update("MarkFailed", id, func(d *models.Document) error {
		d.ProcessingStatus = models.DocStatusFailed
		d.ErrorMessage = nullable(f.Message)
		return mergeMetadata(d, failureMetadata(f, m.now()))
	})
}

func (m *MemoryStore) ResetIndexing(_ context.Context, id uuid.UUID, req ResetRequest) error {
	return m.update("ResetIndexing", id, func(d *models.Document) error {
		run := req.RunID
		d.Indexing = models.IndexingState{
			Status:             models.RAGStatusNotStarted,
			RunID:              &run,
			TotalChunks:        req.TotalChunks,
			PriorityChunkCount: req.PriorityChunkCount,
		}
		return nil
	})
}

func (m *MemoryStore) BeginPriority(_ context.Context, id, runID uuid.UUID) error {
	return m.update("BeginPriority", id, func(d *models.Document) error {
		if isRun(d, runID) && d.Indexing.Status == models.RAGStatusNotStarted {
			d.Indexing.Status = models.RAGStatusPriorityIndexing
		}
		return nil
	})
}

func (m *MemoryStore) RecordIndexedUnit(_ context.Context, id uuid.UUID, u IndexedUnit) (models.IndexingState, bool, error) {
	var (
		state   models.IndexingState
		applied bool
	)
	err := m.update("RecordIndexedUnit", id, func(d *models.Document) error {
		state = d.Indexing
		if !isRun(d, u.RunID) {
			return nil
		}
		key := id.String() + "|" + u.RunID.String() + "|" + u.Key
		if _, seen := m.units[key]; seen {
			return nil
		}
		m.units[key] = struct{}{}
		d.Indexing = nextIndexingState(d.Indexing, u.Count, u.Priority)
		state = d.Indexing
		applied = true
		return nil
	})
	return state, applied, err
}

func (m *MemoryStore) CompleteIndexing(_ context.Context, id, runID uuid.UUID, chunkCount int) error {
	return m.update("CompleteIndexing", id, func(d *models.Document) error {
		if !isRun(d, runID) {
			return nil
		}
		d.Indexing.Status = models.RAGStatusCompleted
		d.Indexing.TotalChunks = chunkCount
		d.Indexing.IndexedChunks = chunkCount
		d.Indexing.Indexed = true
		d.Indexing.ChunkCount = chunkCount
		d.Indexing.Error = nil
		return nil
	})
}

func (m *MemoryStore) MarkIndexingFailed(_ context.Context, id, runID uuid.UUID, message string) error {
	return m.update("MarkIndexingFailed", id, func(d *models.Document) error {
		if runID != uuid.Nil && !isRun(d, runID) {
			return nil
		}
		if d.Indexing.Status == models.RAGStatusCompleted {
			return nil
		}
		d.Indexing.Status = models.RAGStatusFailed
		d.Indexing.Error = nullable(message)
		return nil
	})
}

func isRun(d *models.Document, runID uuid.UUID) bool {
	return d.Indexing.RunID != nil && *d.Indexing.RunID == runID
}

func mergeMetadata(d *models.Document, extra map[string]any) error {
	if len(extra) == 0 {
		return nil
	}
	meta := map[string]any{}
	if len(d.Metadata) > 0 {
		if err := json.Unmarshal(d.Metadata, &meta); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	for k, v := range extra {
		meta[k] = v
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	d.Metadata = raw
	return nil
}

func failureMetadata(f Failure, at time.Time) map[string]any {
	meta := map[string]any{
		"failure_reason": f.Reason,
		"failed_at":      at.UTC().Format(time.RFC3339),
	}
	if f.Step != "" {
		meta["failed_step"] = f.Step
	}
	return meta
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
