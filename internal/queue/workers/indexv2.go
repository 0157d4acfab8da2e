package workers

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/indexing"
	"github.com/nikhilbhutani/docingest/internal/queue"
)

// IndexV2Worker handles document/index-v2. It (re)starts indexing from zero
// under a new run.
type IndexV2Worker struct {
	store   document.Store
	starter IndexStarter
	jobs    config.JobsConfig
}

func NewIndexV2Worker(store document.Store, starter IndexStarter, jobs config.JobsConfig) *IndexV2Worker {
	return &IndexV2Worker{store: store, starter: starter, jobs: jobs}
}

func (w *IndexV2Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IndexV2Payload
	if err := decode(t, &payload); err != nil {
		return err
	}
	docID, err := parseID("document ID", payload.DocumentID)
	if err != nil {
		return err
	}
	return w.Pipeline(docID, payload).Run(ctx)
}

func (w *IndexV2Worker) Pipeline(docID uuid.UUID, payload queue.IndexV2Payload) *queue.Pipeline {
	log := slog.With("document_id", docID)
	text := payload.Text

	return &queue.Pipeline{
		Name:     PipelineIndexV2,
		Attempts: w.jobs.StepAttempts,
		Deadline: w.jobs.IndexTimeout,
		Logger:   log,
		Steps: []queue.Step{
			{
				Name:    "load-text",
				Timeout: w.jobs.StatusStepTimeout,
				Run: func(ctx context.Context) error {
					if text != "" {
						return nil
					}
					doc, err := w.store.Get(ctx, docID)
					if err != nil {
						return notFoundIsPermanent(err)
					}
					if doc.ExtractedText == nil || *doc.ExtractedText == "" {
						return queue.Permanent(indexing.ErrNoContent)
					}
					text = *doc.ExtractedText
					return nil
				},
			},
			{
				Name:    "dispatch",
				Timeout: w.jobs.IndexStepTimeout,
				Run: func(ctx context.Context) error {
					plan, err := w.starter.StartIndexing(ctx, docID, payload.UserID, text)
					if err != nil {
						return err
					}
					log.Info("re-indexing dispatched", "run_id", plan.RunID, "progressive", plan.UseProgressive)
					return nil
				},
			},
		},
		OnFailure: func(ctx context.Context, perr *queue.PipelineError) {
			if err := w.store.MarkIndexingFailed(ctx, docID, uuid.Nil, indexingFailureMessage(perr)); err != nil {
				log.Error("failed to record indexing failure", "error", err, "cause", perr.Err)
			}
		},
	}
}
