// Package workers hosts one asynq handler per ingestion event. Each handler
// builds a step pipeline and lets queue.Pipeline own retries, timeouts and the
// failure hook.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/extraction"
	"github.com/nikhilbhutani/docingest/internal/indexing"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/pkg/chunker"
)

const (
	PipelineProcess       = "process-pdf-document"
	PipelineRAGIndex      = "rag-index-document"
	PipelineIndexV2       = "progressive-index-document"
	PipelineIndexPriority = "index-priority-chunks"
	PipelineIndexBatch    = "index-batch-chunks"
)

type Extractor interface {
	Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

type IndexStarter interface {
	StartIndexing(ctx context.Context, docID uuid.UUID, userID, text string) (*indexing.Plan, error)
}

type ChunkIndexer interface {
	IndexDocument(ctx context.Context, docID uuid.UUID, userID, text string) (int, error)
	IndexChunks(ctx context.Context, docID uuid.UUID, userID string, chunks []chunker.TextChunk) error
}

// decode parses a task payload. Malformed payloads are never retried.
func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func parseID(name, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %v: %w", name, err, asynq.SkipRetry)
	}
	return id, nil
}

// requireRun halts a unit whose run has been superseded by a newer one.
func requireRun(ctx context.Context, store document.Reader, docID, runID uuid.UUID) error {
	doc, err := store.Get(ctx, docID)
	if errors.Is(err, document.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}
	if doc.Indexing.RunID == nil || *doc.Indexing.RunID != runID {
		return fmt.Errorf("run %s superseded: %w", runID, queue.ErrHalt)
	}
	return nil
}

func notFoundIsPermanent(err error) error {
	if errors.Is(err, document.ErrNotFound) {
		return queue.Permanent(err)
	}
	return err
}

func indexingFailureMessage(perr *queue.PipelineError) string {
	if perr.Reason == models.FailureReasonTimeout {
		return fmt.Sprintf("Indexing timed out during %s", perr.Step)
	}
	return fmt.Sprintf("Indexing failed during %s: %v", perr.Step, perr.Err)
}
