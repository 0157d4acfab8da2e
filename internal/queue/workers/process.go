package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/extraction"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/storage"
)

// ProcessWorker handles document/process: extract text, persist it, start
// indexing and mark the document completed.
type ProcessWorker struct {
	store     document.Store
	blobs     storage.Storage
	bucket    string
	extractor Extractor
	indexer   IndexStarter
	jobs      config.JobsConfig
}

func NewProcessWorker(store document.Store, blobs storage.Storage, bucket string, extractor Extractor, indexer IndexStarter, jobs config.JobsConfig) *ProcessWorker {
	return &ProcessWorker{
		store:     store,
		blobs:     blobs,
		bucket:    bucket,
		extractor: extractor,
		indexer:   indexer,
		jobs:      jobs,
	}
}

func (w *ProcessWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentProcessPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	docID, err := parseID("document ID", payload.DocumentID)
	if err != nil {
		return err
	}

	slog.Info("processing document", "document_id", docID, "file_name", payload.FileName, "size", payload.FileSize)
	return w.Pipeline(docID).Run(ctx)
}

// Pipeline builds the process-pdf-document steps for one document.
func (w *ProcessWorker) Pipeline(docID uuid.UUID) *queue.Pipeline {
	log := slog.With("document_id", docID)

	var (
		doc    *models.Document
		result *extraction.Result
	)

	return &queue.Pipeline{
		Name:     PipelineProcess,
		Attempts: w.jobs.StepAttempts,
		Deadline: w.jobs.ProcessTimeout,
		Logger:   log,
		Steps: []queue.Step{
			{
				Name:    "mark-processing",
				Timeout: w.jobs.StatusStepTimeout,
				Run: func(ctx context.Context) error {
					d, err := w.store.Get(ctx, docID)
					if err != nil {
						return notFoundIsPermanent(err)
					}
					// A redelivered task for a document that already reached
					// a final status has nothing left to do.
					if models.IsTerminal(d.ProcessingStatus) {
						return fmt.Errorf("document already %s: %w", d.ProcessingStatus, queue.ErrHalt)
					}
					return notFoundIsPermanent(w.store.MarkProcessing(ctx, docID))
				},
			},
			{
				Name:    "extract-text",
				Timeout: w.jobs.ExtractStepTimeout,
				Run: func(ctx context.Context) error {
					d, err := w.store.Get(ctx, docID)
					if err != nil {
						return notFoundIsPermanent(err)
					}

					data, err := document.Fetch(ctx, w.blobs, w.bucket, d.StoragePath, d.FileSizeBytes)
					if err != nil {
						if errors.Is(err, storage.ErrObjectNotFound) {
							return queue.Permanent(err)
						}
						return err
					}

					res, err := w.extractor.Extract(ctx, extraction.Input{
						Data:     data,
						FileName: d.FileName,
						FileType: d.FileType,
						Size:     d.FileSizeBytes,
					})
					if err != nil {
						if extraction.IsDefinitive(err) {
							return w.finishUnextractable(ctx, log, docID, err)
						}
						return err
					}

					if err := w.store.SaveExtraction(ctx, docID, document.ExtractionRecord{
						Text:      res.Text,
						Method:    res.Method,
						PageCount: res.PageCount,
						Pages:     res.Pages,
					}); err != nil {
						return err
					}

					doc, result = d, res
					log.Info("text extracted", "method", res.Method, "pages", res.PageCount)
					return nil
				},
			},
			{
				Name:    "rag-index",
				Timeout: w.jobs.IndexStepTimeout,
				Run: func(ctx context.Context) error {
					plan, err := w.indexer.StartIndexing(ctx, docID, doc.UserID, result.Text)
					if err != nil {
						return err
					}
					log.Info("indexing dispatched",
						"progressive", plan.UseProgressive,
						"total_chunks", plan.TotalChunks,
						"estimated_seconds", plan.EstimatedSeconds,
					)
					return nil
				},
				// Indexing trouble leaves the text usable; record it and finish.
				Fallback: func(ctx context.Context, err error) error {
					return w.store.MarkIndexingFailed(ctx, docID, uuid.Nil, err.Error())
				},
			},
			{
				Name:    "finalize",
				Timeout: w.jobs.StatusStepTimeout,
				Run: func(ctx context.Context) error {
					return w.store.SetTerminal(ctx, docID, models.DocStatusCompleted, "", nil)
				},
			},
		},
		OnFailure: func(ctx context.Context, perr *queue.PipelineError) {
			err := w.store.MarkFailed(ctx, docID, document.Failure{
				Message: processFailureMessage(perr),
				Reason:  perr.Reason,
				Step:    perr.Step,
			})
			if err != nil {
				log.Error("failed to record document failure", "error", err, "cause", perr.Err)
			}
		},
	}
}

// finishUnextractable records a definitive extraction outcome and halts the
// pipeline. Retrying cannot change these results.
func (w *ProcessWorker) finishUnextractable(ctx context.Context, log *slog.Logger, docID uuid.UUID, cause error) error {
	status := models.DocStatusFailed
	if errors.Is(cause, extraction.ErrInsufficientYield) {
		status = models.DocStatusNeedsOCR
	}

	meta := map[string]any{"extraction_error": cause.Error()}
	if err := w.store.SetTerminal(ctx, docID, status, extraction.UserMessage(cause), meta); err != nil {
		return fmt.Errorf("record extraction outcome: %w", err)
	}

	log.Info("document not extractable", "status", status, "error", cause)
	return fmt.Errorf("%s: %w", status, queue.ErrHalt)
}

func processFailureMessage(perr *queue.PipelineError) string {
	switch {
	case perr.Reason == models.FailureReasonTimeout:
		return fmt.Sprintf("Processing timed out during %s. Please try again.", perr.Step)
	case perr.Step == "extract-text":
		return extraction.UserMessage(perr.Err)
	default:
		return fmt.Sprintf("Processing failed during %s: %v", perr.Step, perr.Err)
	}
}
