package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/storage"
)

// ProcessEmitter emits the document/process event for a stored document.
type ProcessEmitter interface {
	EmitProcess(ctx context.Context, doc *models.Document) error
}

// Service registers uploads: blob first, then the record, then the event.
type Service struct {
	store   Store
	storage storage.Storage
	bucket  string
	emitter ProcessEmitter
}

func NewService(store Store, blobs storage.Storage, bucket string, emitter ProcessEmitter) *Service {
	return &Service{
		store:   store,
		storage: blobs,
		bucket:  bucket,
		emitter: emitter,
	}
}

type UploadRequest struct {
	UserID   string
	FileName string
	FileType string
	Data     io.Reader
	Metadata map[string]any
}

func (s *Service) Upload(ctx context.Context, req UploadRequest) (*models.Document, error) {
	docID := uuid.New()
	fileName := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	if fileName == "." || fileName == "/" {
		fileName = "document"
	}
	storagePath := fmt.Sprintf("%s/%s/%s-%s", req.UserID, docID, time.Now().UTC().Format("20060102"), fileName)

	// Count bytes as they stream so the declared size is the stored size.
	counter := &countingReader{r: req.Data}
	contentType := req.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.storage.Upload(ctx, s.bucket, storagePath, counter, contentType); err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	metadata := []byte(`{}`)
	if len(req.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(req.Metadata); err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	doc := &models.Document{
		ID:               docID,
		UserID:           req.UserID,
		FileName:         fileName,
		FileType:         req.FileType,
		FileSizeBytes:    counter.n,
		StoragePath:      storagePath,
		ProcessingStatus: models.DocStatusPending,
		Metadata:         metadata,
	}
	if err := s.store.Create(ctx, doc); err != nil {
		_ = s.storage.Delete(ctx, s.bucket, storagePath)
		return nil, err
	}

	if err := s.emitter.EmitProcess(ctx, doc); err != nil {
		// The record stays pending; POST /documents/{id}/process re-emits.
		slog.Error("failed to emit process event", "document_id", docID, "error", err)
		return doc, fmt.Errorf("emit process event: %w", err)
	}

	slog.Info("document uploaded", "document_id", docID, "size", counter.n, "file_type", req.FileType)
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return s.store.Get(ctx, id)
}

// Reprocess re-emits document/process for an existing record.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.emitter.EmitProcess(ctx, doc); err != nil {
		return nil, fmt.Errorf("emit process event: %w", err)
	}
	return doc, nil
}

// Fetch downloads the stored blob fully into memory.
func (s *Service) Fetch(ctx context.Context, doc *models.Document) ([]byte, error) {
	return Fetch(ctx, s.storage, s.bucket, doc.StoragePath, doc.FileSizeBytes)
}

// Fetch downloads path, pre-sizing the buffer from the declared size.
func Fetch(ctx context.Context, blobs storage.Storage, bucket, storagePath string, sizeHint int64) ([]byte, error) {
	rc, err := blobs.Download(ctx, bucket, storagePath)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if sizeHint > 0 && sizeHint < 1<<31 {
		buf.Grow(int(sizeHint))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return buf.Bytes(), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
