package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/models"
)

const (
	redeliveries   = 2
	processTimeout = 30 * time.Minute
	indexTimeout   = 15 * time.Minute
)

type Client struct {
	client         *asynq.Client
	processTimeout time.Duration
	indexTimeout   time.Duration
}

func NewClient(cfg config.RedisConfig, jobs config.JobsConfig) *Client {
	c := &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		processTimeout: jobs.ProcessTimeout,
		indexTimeout:   jobs.IndexTimeout,
	}
	if c.processTimeout <= 0 {
		c.processTimeout = processTimeout
	}
	if c.indexTimeout <= 0 {
		c.indexTimeout = indexTimeout
	}
	return c
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EmitProcess emits document/process for a stored document.
func (c *Client) EmitProcess(ctx context.Context, doc *models.Document) error {
	return c.EnqueueDocumentProcess(ctx, DocumentProcessPayload{
		DocumentID:  doc.ID.String(),
		UserID:      doc.UserID,
		FileName:    doc.FileName,
		FileType:    doc.FileType,
		FileSize:    doc.FileSizeBytes,
		StoragePath: doc.StoragePath,
	})
}

// Steps retry inside the pipeline, and a failed pipeline returns SkipRetry
// after its failure hook, so task-level retries only cover redelivery after a
// worker crash. The pipeline runs under processTimeout; the task timeout adds
// a grace period on top.
func (c *Client) EnqueueDocumentProcess(ctx context.Context, payload DocumentProcessPayload) error {
	return c.enqueue(ctx, TypeDocumentProcess, payload,
		asynq.Queue(QueueDefault), asynq.MaxRetry(redeliveries), asynq.Timeout(TaskTimeout(c.processTimeout)))
}

func (c *Client) EnqueueRAGIndex(ctx context.Context, payload RAGIndexPayload) error {
	return c.enqueue(ctx, TypeRAGIndex, payload,
		asynq.Queue(QueueDefault), asynq.MaxRetry(redeliveries), asynq.Timeout(TaskTimeout(c.indexTimeout)),
		asynq.TaskID(unitTaskID(TypeRAGIndex, payload.RunID, UnitAll)))
}

func (c *Client) EnqueueIndexV2(ctx context.Context, payload IndexV2Payload) error {
	return c.enqueue(ctx, TypeIndexV2, payload,
		asynq.Queue(QueueDefault), asynq.MaxRetry(redeliveries), asynq.Timeout(TaskTimeout(c.indexTimeout)))
}

func (c *Client) EnqueueIndexPriority(ctx context.Context, payload IndexPriorityPayload) error {
	return c.enqueue(ctx, TypeIndexPriority, payload,
		asynq.Queue(QueueCritical), asynq.MaxRetry(redeliveries), asynq.Timeout(TaskTimeout(c.indexTimeout)),
		asynq.TaskID(unitTaskID(TypeIndexPriority, payload.RunID, UnitPriority)))
}

func (c *Client) EnqueueIndexBatch(ctx context.Context, payload IndexBatchPayload) error {
	return c.enqueue(ctx, TypeIndexBatch, payload,
		asynq.Queue(QueueLow), asynq.MaxRetry(redeliveries), asynq.Timeout(TaskTimeout(c.indexTimeout)),
		asynq.TaskID(unitTaskID(TypeIndexBatch, payload.RunID, BatchUnitKey(payload.BatchIndex))))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Already enqueued by an earlier attempt of the same step.
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}

func unitTaskID(taskType, runID, unit string) string {
	return taskType + ":" + runID + ":" + unit
}
