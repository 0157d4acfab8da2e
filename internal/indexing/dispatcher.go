package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/pkg/chunker"
)

// Enqueuer emits indexing work units.
type Enqueuer interface {
	EnqueueRAGIndex(ctx context.Context, p queue.RAGIndexPayload) error
	EnqueueIndexPriority(ctx context.Context, p queue.IndexPriorityPayload) error
	EnqueueIndexBatch(ctx context.Context, p queue.IndexBatchPayload) error
}

// ChunkPruner drops stored chunks past the end of a new run.
type ChunkPruner interface {
	DeleteFrom(ctx context.Context, documentID uuid.UUID, fromIndex int) error
}

// Plan describes what StartIndexing dispatched.
type Plan struct {
	UseProgressive   bool      `json:"use_progressive"`
	EstimatedSeconds int       `json:"estimated_seconds"`
	RunID            uuid.UUID `json:"run_id"`
	TotalChunks      int       `json:"total_chunks"`
	PriorityCount    int       `json:"priority_count"`
	Batches          int       `json:"batches"`
}

type Dispatcher struct {
	store    document.Store
	enqueuer Enqueuer
	vectors  ChunkPruner
	cfg      config.IndexingConfig
}

func NewDispatcher(store document.Store, enqueuer Enqueuer, vectors ChunkPruner, cfg config.IndexingConfig) *Dispatcher {
	return &Dispatcher{store: store, enqueuer: enqueuer, vectors: vectors, cfg: cfg}
}

func (d *Dispatcher) policy() chunker.PriorityPolicy {
	return chunker.PriorityPolicy{
		Fraction:  d.cfg.PriorityFraction,
		MaxChunks: d.cfg.MaxPriorityChunks,
		MinChunks: d.cfg.MinChunksForProgressive,
	}
}

// StartIndexing opens a new indexing run for the document and dispatches it,
// either as one unit covering everything or as a priority unit followed by
// batch units. Any earlier run is superseded; its late completions no longer
// count. Chunks an earlier run stored beyond the new total are deleted, the
// rest are overwritten in place as the new run upserts them.
func (d *Dispatcher) StartIndexing(ctx context.Context, docID uuid.UUID, userID, text string) (*Plan, error) {
	total := chunker.EstimateCount(text, d.cfg.ChunkSize)
	if total == 0 {
		return nil, ErrNoContent
	}

	plan := &Plan{
		RunID:         uuid.New(),
		TotalChunks:   total,
		PriorityCount: d.policy().PriorityCount(total),
	}
	plan.UseProgressive = plan.PriorityCount > 0

	if err := d.store.ResetIndexing(ctx, docID, document.ResetRequest{
		RunID:              plan.RunID,
		TotalChunks:        total,
		PriorityChunkCount: plan.PriorityCount,
	}); err != nil {
		return nil, fmt.Errorf("reset indexing state: %w", err)
	}
	if err := d.vectors.DeleteFrom(ctx, docID, total); err != nil {
		return nil, fmt.Errorf("prune stale chunks: %w", err)
	}

	log := slog.With("document_id", docID, "run_id", plan.RunID, "total_chunks", total)

	if !plan.UseProgressive {
		plan.EstimatedSeconds = estimate(total, d.cfg.PrioritySecondsPerChunk)
		if err := d.enqueuer.EnqueueRAGIndex(ctx, queue.RAGIndexPayload{
			DocumentID: docID.String(),
			UserID:     userID,
			RunID:      plan.RunID.String(),
			Text:       text,
		}); err != nil {
			return nil, err
		}
		log.Info("dispatched single-pass indexing", "estimated_seconds", plan.EstimatedSeconds)
		return plan, nil
	}

	part := chunker.SelectPriority(chunker.Segment(text, d.cfg.ChunkSize), d.policy())
	batches := chunker.Batches(part.Remainder, d.cfg.BatchSize)
	plan.Batches = len(batches)
	plan.EstimatedSeconds = estimate(len(part.Priority), d.cfg.PrioritySecondsPerChunk) +
		estimate(len(part.Remainder), d.cfg.BatchSecondsPerChunk)

	if err := d.enqueuer.EnqueueIndexPriority(ctx, queue.IndexPriorityPayload{
		DocumentID:    docID.String(),
		UserID:        userID,
		RunID:         plan.RunID.String(),
		Chunks:        part.Priority,
		TotalChunks:   total,
		PriorityCount: plan.PriorityCount,
	}); err != nil {
		return nil, err
	}

	for i, batch := range batches {
		if err := d.enqueuer.EnqueueIndexBatch(ctx, queue.IndexBatchPayload{
			DocumentID:    docID.String(),
			UserID:        userID,
			RunID:         plan.RunID.String(),
			BatchIndex:    i,
			TotalBatches:  len(batches),
			Chunks:        batch,
			StartIndex:    batch[0].Index,
			TotalChunks:   total,
			PriorityCount: plan.PriorityCount,
		}); err != nil {
			return nil, err
		}
	}

	log.Info("dispatched progressive indexing",
		"priority_chunks", plan.PriorityCount,
		"batches", plan.Batches,
		"estimated_seconds", plan.EstimatedSeconds,
	)
	return plan, nil
}

func estimate(chunks int, secondsPerChunk float64) int {
	return int(math.Ceil(float64(chunks) * secondsPerChunk))
}
