package workers

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/metrics"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/pkg/chunker"
)

// IndexUnitWorker handles the progressive work units: document/index-priority
// and document/index-batch. Units of one run may finish in any order; the
// store accumulates their counts atomically.
type IndexUnitWorker struct {
	store   document.Store
	indexer ChunkIndexer
	jobs    config.JobsConfig
}

func NewIndexUnitWorker(store document.Store, indexer ChunkIndexer, jobs config.JobsConfig) *IndexUnitWorker {
	return &IndexUnitWorker{store: store, indexer: indexer, jobs: jobs}
}

func (w *IndexUnitWorker) ProcessPriority(ctx context.Context, t *asynq.Task) error {
	var payload queue.IndexPriorityPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	docID, err := parseID("document ID", payload.DocumentID)
	if err != nil {
		return err
	}
	runID, err := parseID("run ID", payload.RunID)
	if err != nil {
		return err
	}
	return w.PriorityPipeline(docID, runID, payload).Run(ctx)
}

func (w *IndexUnitWorker) ProcessBatch(ctx context.Context, t *asynq.Task) error {
	var payload queue.IndexBatchPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	docID, err := parseID("document ID", payload.DocumentID)
	if err != nil {
		return err
	}
	runID, err := parseID("run ID", payload.RunID)
	if err != nil {
		return err
	}
	return w.BatchPipeline(docID, runID, payload).Run(ctx)
}

func (w *IndexUnitWorker) PriorityPipeline(docID, runID uuid.UUID, payload queue.IndexPriorityPayload) *queue.Pipeline {
	log := slog.With("document_id", docID, "run_id", runID, "unit", queue.UnitPriority)

	steps := []queue.Step{{
		Name:    "mark-priority-indexing",
		Timeout: w.jobs.StatusStepTimeout,
		Run: func(ctx context.Context) error {
			if err := requireRun(ctx, w.store, docID, runID); err != nil {
				return err
			}
			return w.store.BeginPriority(ctx, docID, runID)
		},
	}}
	steps = append(steps, w.unitSteps(log, docID, runID, payload.UserID, payload.Chunks, document.IndexedUnit{
		RunID:    runID,
		Key:      queue.UnitPriority,
		Count:    len(payload.Chunks),
		Priority: true,
	}, "priority")...)

	return &queue.Pipeline{
		Name:      PipelineIndexPriority,
		Attempts:  w.jobs.StepAttempts,
		Deadline:  w.jobs.IndexTimeout,
		Logger:    log,
		Steps:     steps,
		OnFailure: w.onFailure(log, docID, runID),
	}
}

func (w *IndexUnitWorker) BatchPipeline(docID, runID uuid.UUID, payload queue.IndexBatchPayload) *queue.Pipeline {
	key := queue.BatchUnitKey(payload.BatchIndex)
	log := slog.With("document_id", docID, "run_id", runID, "unit", key, "total_batches", payload.TotalBatches)

	return &queue.Pipeline{
		Name:     PipelineIndexBatch,
		Attempts: w.jobs.StepAttempts,
		Deadline: w.jobs.IndexTimeout,
		Logger:   log,
		Steps: w.unitSteps(log, docID, runID, payload.UserID, payload.Chunks, document.IndexedUnit{
			RunID: runID,
			Key:   key,
			Count: len(payload.Chunks),
		}, "batch"),
		OnFailure: w.onFailure(log, docID, runID),
	}
}

func (w *IndexUnitWorker) unitSteps(log *slog.Logger, docID, runID uuid.UUID, userID string, chunks []chunker.TextChunk, unit document.IndexedUnit, phase string) []queue.Step {
	return []queue.Step{
		{
			Name:    "index-chunks",
			Timeout: w.jobs.IndexStepTimeout,
			Run: func(ctx context.Context) error {
				if err := requireRun(ctx, w.store, docID, runID); err != nil {
					return err
				}
				return w.indexer.IndexChunks(ctx, docID, userID, chunks)
			},
		},
		{
			Name:    "record-progress",
			Timeout: w.jobs.StatusStepTimeout,
			Run: func(ctx context.Context) error {
				state, applied, err := w.store.RecordIndexedUnit(ctx, docID, unit)
				if err != nil {
					return err
				}
				if applied {
					metrics.ChunksIndexed.WithLabelValues(phase).Add(float64(unit.Count))
				}
				log.Info("indexing progress",
					"applied", applied,
					"status", state.Status,
					"indexed_chunks", state.IndexedChunks,
					"total_chunks", state.TotalChunks,
				)
				return nil
			},
		},
	}
}

func (w *IndexUnitWorker) onFailure(log *slog.Logger, docID, runID uuid.UUID) queue.FailureHook {
	return func(ctx context.Context, perr *queue.PipelineError) {
		if err := w.store.MarkIndexingFailed(ctx, docID, runID, indexingFailureMessage(perr)); err != nil {
			log.Error("failed to record indexing failure", "error", err, "cause", perr.Err)
		}
	}
}
