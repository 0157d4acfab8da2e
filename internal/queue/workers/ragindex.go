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
)

// RAGIndexWorker handles document/rag-index, the single-pass path for
// documents too small to split.
type RAGIndexWorker struct {
	store   document.Store
	indexer ChunkIndexer
	jobs    config.JobsConfig
}

func NewRAGIndexWorker(store document.Store, indexer ChunkIndexer, jobs config.JobsConfig) *RAGIndexWorker {
	return &RAGIndexWorker{store: store, indexer: indexer, jobs: jobs}
}

func (w *RAGIndexWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.RAGIndexPayload
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
	return w.Pipeline(docID, runID, payload).Run(ctx)
}

func (w *RAGIndexWorker) Pipeline(docID, runID uuid.UUID, payload queue.RAGIndexPayload) *queue.Pipeline {
	log := slog.With("document_id", docID, "run_id", runID)
	var indexed int

	return &queue.Pipeline{
		Name:     PipelineRAGIndex,
		Attempts: w.jobs.StepAttempts,
		Deadline: w.jobs.IndexTimeout,
		Logger:   log,
		Steps: []queue.Step{
			{
				Name:    "index-chunks",
				Timeout: w.jobs.IndexStepTimeout,
				Run: func(ctx context.Context) error {
					if err := requireRun(ctx, w.store, docID, runID); err != nil {
						return err
					}
					n, err := w.indexer.IndexDocument(ctx, docID, payload.UserID, payload.Text)
					if err != nil {
						return err
					}
					indexed = n
					metrics.ChunksIndexed.WithLabelValues("single").Add(float64(n))
					return nil
				},
			},
			{
				Name:    "mark-indexed",
				Timeout: w.jobs.StatusStepTimeout,
				Run: func(ctx context.Context) error {
					if err := w.store.CompleteIndexing(ctx, docID, runID, indexed); err != nil {
						return err
					}
					log.Info("document indexed", "chunks", indexed)
					return nil
				},
			},
		},
		OnFailure: func(ctx context.Context, perr *queue.PipelineError) {
			if err := w.store.MarkIndexingFailed(ctx, docID, runID, indexingFailureMessage(perr)); err != nil {
				log.Error("failed to record indexing failure", "error", err, "cause", perr.Err)
			}
		},
	}
}
