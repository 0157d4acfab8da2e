package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/extraction"
	"github.com/nikhilbhutani/docingest/internal/indexing"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/storage"
)

const bucket = "documents"

type nopEmitter struct{}

func (nopEmitter) EmitProcess(context.Context, *models.Document) error { return nil }

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, in extraction.Input) (*extraction.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, in)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStarter struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeStarter) StartIndexing(_ context.Context, _ uuid.UUID, _, text string) (*indexing.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &indexing.Plan{RunID: uuid.New(), TotalChunks: 1}, nil
}

func testJobs() config.JobsConfig {
	return config.JobsConfig{
		StepAttempts:       3,
		StatusStepTimeout:  time.Second,
		ExtractStepTimeout: time.Second,
		IndexStepTimeout:   time.Second,
	}
}

type processFixture struct {
	store     *document.MemoryStore
	extractor *fakeExtractor
	starter   *fakeStarter
	worker    *ProcessWorker
	docID     uuid.UUID
}

func newProcessFixture(t *testing.T, jobs config.JobsConfig, fn func(context.Context, extraction.Input) (*extraction.Result, error)) *processFixture {
	t.Helper()
	store := document.NewMemoryStore()
	blobs := storage.NewMemoryStorage()

	svc := document.NewService(store, blobs, bucket, nopEmitter{})
	doc, err := svc.Upload(context.Background(), document.UploadRequest{
		UserID:   "user-1",
		FileName: "notes.pdf",
		FileType: "application/pdf",
		Data:     bytes.NewReader([]byte("%PDF-1.7 test body")),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	f := &processFixture{
		store:     store,
		extractor: &fakeExtractor{fn: fn},
		starter:   &fakeStarter{},
		docID:     doc.ID,
	}
	f.worker = NewProcessWorker(store, blobs, bucket, f.extractor, f.starter, jobs)
	return f
}

func (f *processFixture) run(t *testing.T) (*models.Document, error) {
	t.Helper()
	p := f.worker.Pipeline(f.docID)
	p.Backoff = func(int) time.Duration { return 0 }
	err := p.Run(context.Background())

	doc, gerr := f.store.Get(context.Background(), f.docID)
	if gerr != nil {
		t.Fatalf("Get: %v", gerr)
	}
	return doc, err
}

func metadata(t *testing.T, doc *models.Document) map[string]any {
	t.Helper()
	meta := map[string]any{}
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	return meta
}

func TestProcessSuccess(t *testing.T) {
	text := strings.Repeat("lorem ipsum ", 50)
	f := newProcessFixture(t, testJobs(), func(_ context.Context, in extraction.Input) (*extraction.Result, error) {
		if string(in.Data) != "%PDF-1.7 test body" || in.FileName != "notes.pdf" || in.Size != int64(len(in.Data)) {
			t.Errorf("input = %q %q %d", in.Data, in.FileName, in.Size)
		}
		return &extraction.Result{
			Text:      text,
			PageCount: 1,
			Pages:     []models.Page{{Number: 1, Text: text, EndOffset: len(text)}},
			Method:    extraction.MethodFastParser,
		}, nil
	})

	doc, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.ProcessingStatus != models.DocStatusCompleted || doc.ErrorMessage != nil {
		t.Errorf("status = %q err = %v", doc.ProcessingStatus, doc.ErrorMessage)
	}
	if doc.ExtractedText == nil || *doc.ExtractedText != text || doc.ExtractionMethod != "pdf-parse" {
		t.Errorf("extraction not persisted: method=%q", doc.ExtractionMethod)
	}
	meta := metadata(t, doc)
	if meta["processing_method"] != "pdf-parse" || meta["text_length"] != float64(len(text)) {
		t.Errorf("metadata = %v", meta)
	}
	if len(f.starter.texts) != 1 || f.starter.texts[0] != text {
		t.Errorf("indexing started %d times", len(f.starter.texts))
	}
}

func TestProcessEncryptedDocument(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, &extraction.TierError{Method: extraction.MethodFastParser, Err: extraction.ErrEncryptedDocument}
	})

	doc, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.ProcessingStatus != models.DocStatusFailed {
		t.Errorf("status = %q, want failed", doc.ProcessingStatus)
	}
	if doc.ErrorMessage == nil || !strings.Contains(*doc.ErrorMessage, "password") {
		t.Errorf("error message = %v", doc.ErrorMessage)
	}
	if f.extractor.Calls() != 1 {
		t.Errorf("extract attempts = %d, want 1", f.extractor.Calls())
	}
	if len(f.starter.texts) != 0 {
		t.Error("indexing must not start")
	}
}

func TestProcessScannedDocumentNeedsOCR(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, extraction.ErrInsufficientYield
	})

	doc, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.ProcessingStatus != models.DocStatusNeedsOCR {
		t.Errorf("status = %q, want needs_ocr", doc.ProcessingStatus)
	}
	if doc.ErrorMessage == nil || !strings.Contains(*doc.ErrorMessage, "OCR") {
		t.Errorf("error message = %v", doc.ErrorMessage)
	}
}

func TestProcessStepFailingEveryAttempt(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, extraction.ErrServiceUnavailable
	})

	doc, err := f.run(t)
	var perr *queue.PipelineError
	if !errors.As(err, &perr) || perr.Step != "extract-text" {
		t.Fatalf("err = %v", err)
	}
	if f.extractor.Calls() != 3 {
		t.Errorf("extract attempts = %d, want 3", f.extractor.Calls())
	}
	if doc.ProcessingStatus != models.DocStatusFailed || doc.ErrorMessage == nil || *doc.ErrorMessage == "" {
		t.Fatalf("status = %q message = %v", doc.ProcessingStatus, doc.ErrorMessage)
	}
	meta := metadata(t, doc)
	if meta["failure_reason"] != models.FailureReasonError || meta["failed_step"] != "extract-text" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestProcessExtractionTimeout(t *testing.T) {
	jobs := testJobs()
	jobs.StepAttempts = 1
	jobs.ExtractStepTimeout = 20 * time.Millisecond
	f := newProcessFixture(t, jobs, func(ctx context.Context, _ extraction.Input) (*extraction.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	doc, err := f.run(t)
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	meta := metadata(t, doc)
	if doc.ProcessingStatus != models.DocStatusFailed || meta["failure_reason"] != models.FailureReasonTimeout {
		t.Errorf("status = %q metadata = %v", doc.ProcessingStatus, meta)
	}
}

func TestProcessIndexingFailureKeepsDocumentUsable(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return &extraction.Result{Text: strings.Repeat("x", 500), Method: extraction.MethodNativeParser}, nil
	})
	f.starter.err = errors.New("redis unavailable")

	doc, err := f.run(t)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.ProcessingStatus != models.DocStatusCompleted {
		t.Errorf("status = %q, want completed", doc.ProcessingStatus)
	}
	if doc.Indexing.Status != models.RAGStatusFailed || doc.Indexing.Error == nil {
		t.Errorf("indexing = %+v", doc.Indexing)
	}
}

func TestProcessFailureHookSwallowsStoreErrors(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, extraction.ErrServiceUnavailable
	})
	f.store.FailNext("MarkFailed", errors.New("connection refused"))

	doc, err := f.run(t)
	if err == nil {
		t.Fatal("pipeline error must still be returned")
	}
	if doc.ProcessingStatus != models.DocStatusProcessing {
		t.Errorf("status = %q", doc.ProcessingStatus)
	}
}

func TestProcessMissingBlobFailsWithoutRetry(t *testing.T) {
	store := document.NewMemoryStore()
	doc := &models.Document{UserID: "u", FileName: "gone.pdf", StoragePath: "u/gone.pdf"}
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	ex := &fakeExtractor{fn: func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, errors.New("unreachable")
	}}
	w := NewProcessWorker(store, storage.NewMemoryStorage(), bucket, ex, &fakeStarter{}, testJobs())

	p := w.Pipeline(doc.ID)
	p.Backoff = func(int) time.Duration { return 0 }
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if ex.Calls() != 0 {
		t.Error("extractor must not run without a blob")
	}
	got, _ := store.Get(context.Background(), doc.ID)
	if got.ProcessingStatus != models.DocStatusFailed {
		t.Errorf("status = %q", got.ProcessingStatus)
	}
}

func TestProcessRedeliveryOfFinishedDocumentIsNoop(t *testing.T) {
	f := newProcessFixture(t, testJobs(), func(context.Context, extraction.Input) (*extraction.Result, error) {
		return nil, extraction.ErrServiceUnavailable
	})

	if _, err := f.run(t); err == nil {
		t.Fatal("first delivery must fail")
	}
	calls := f.extractor.Calls()

	doc, err := f.run(t)
	if err != nil {
		t.Fatalf("redelivery returned %v", err)
	}
	if f.extractor.Calls() != calls {
		t.Errorf("extractor ran again: %d calls, want %d", f.extractor.Calls(), calls)
	}
	if doc.ProcessingStatus != models.DocStatusFailed {
		t.Errorf("status = %q, want failed", doc.ProcessingStatus)
	}
}

func TestProcessOverallDeadline(t *testing.T) {
	jobs := testJobs()
	jobs.ProcessTimeout = 150 * time.Millisecond
	jobs.ExtractStepTimeout = time.Minute
	f := newProcessFixture(t, jobs, func(ctx context.Context, _ extraction.Input) (*extraction.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	doc, err := f.run(t)
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("pipeline ran %v past its deadline", elapsed)
	}
	if f.extractor.Calls() != 1 {
		t.Errorf("extractor calls = %d, want 1", f.extractor.Calls())
	}
	if doc.ProcessingStatus != models.DocStatusFailed {
		t.Errorf("status = %q, want failed", doc.ProcessingStatus)
	}
	if reason := metadata(t, doc)["failure_reason"]; reason != models.FailureReasonTimeout {
		t.Errorf("failure_reason = %v", reason)
	}
}
