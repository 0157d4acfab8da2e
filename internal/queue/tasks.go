package queue

import (
	"fmt"

	"github.com/nikhilbhutani/docingest/pkg/chunker"
)

// Event names as emitted by the upload surface and the dispatcher.
const (
	TypeDocumentProcess = "document/process"
	TypeRAGIndex        = "document/rag-index"
	TypeIndexV2         = "document/index-v2"
	TypeIndexPriority   = "document/index-priority"
	TypeIndexBatch      = "document/index-batch"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type DocumentProcessPayload struct {
	DocumentID  string `json:"documentId"`
	UserID      string `json:"userId"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
	StoragePath string `json:"storagePath"`
}

type RAGIndexPayload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	RunID      string `json:"runId"`
	Text       string `json:"text"`
}

// IndexV2Payload starts a progressive run. Text may be empty, in which case
// the stored extracted text is used.
type IndexV2Payload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Text       string `json:"text,omitempty"`
}

type IndexPriorityPayload struct {
	DocumentID    string              `json:"documentId"`
	UserID        string              `json:"userId"`
	RunID         string              `json:"runId"`
	Chunks        []chunker.TextChunk `json:"chunks"`
	TotalChunks   int                 `json:"totalChunks"`
	PriorityCount int                 `json:"priorityCount"`
}

type IndexBatchPayload struct {
	DocumentID    string              `json:"documentId"`
	UserID        string              `json:"userId"`
	RunID         string              `json:"runId"`
	BatchIndex    int                 `json:"batchIndex"`
	TotalBatches  int                 `json:"totalBatches"`
	Chunks        []chunker.TextChunk `json:"chunks"`
	StartIndex    int                 `json:"startIndex"`
	TotalChunks   int                 `json:"totalChunks"`
	PriorityCount int                 `json:"priorityCount"`
}

// Unit keys identify work units within a run for the progress ledger.
const (
	UnitAll      = "all"
	UnitPriority = "priority"
)

func BatchUnitKey(batchIndex int) string {
	return fmt.Sprintf("batch-%d", batchIndex)
}
