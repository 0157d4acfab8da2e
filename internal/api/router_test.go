package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/api/handlers"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/ratelimit"
	"github.com/nikhilbhutani/docingest/internal/status"
	"github.com/nikhilbhutani/docingest/internal/storage"
)

type recordingEmitter struct {
	emitted []uuid.UUID
	err     error
}

func (e *recordingEmitter) EmitProcess(_ context.Context, doc *models.Document) error {
	if e.err != nil {
		return e.err
	}
	e.emitted = append(e.emitted, doc.ID)
	return nil
}

type recordingReindexer struct {
	payloads []queue.IndexV2Payload
}

func (r *recordingReindexer) EnqueueIndexV2(_ context.Context, p queue.IndexV2Payload) error {
	r.payloads = append(r.payloads, p)
	return nil
}

type testServer struct {
	handler   http.Handler
	store     *document.MemoryStore
	emitter   *recordingEmitter
	reindexer *recordingReindexer
}

func newTestServer(t *testing.T, maxRequests int) *testServer {
	t.Helper()
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{MaxRequests: maxRequests, Window: time.Minute},
	}
	store := document.NewMemoryStore()
	emitter := &recordingEmitter{}
	reindexer := &recordingReindexer{}
	limiter := ratelimit.NewMemoryLimiter(0)
	t.Cleanup(limiter.Close)

	rt := NewRouter(Deps{
		Config:    cfg,
		Documents: document.NewService(store, storage.NewMemoryStorage(), "documents", emitter),
		Status:    status.NewService(store, 0),
		Reindexer: reindexer,
		Limiter:   ratelimit.NewFailOpen(limiter),
		Checks: map[string]handlers.Pinger{
			"database": handlers.PingFunc(func(context.Context) error { return nil }),
		},
	})
	return &testServer{handler: rt.Setup(), store: store, emitter: emitter, reindexer: reindexer}
}

func (s *testServer) do(req *http.Request, user string) *httptest.ResponseRecorder {
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) upload(t *testing.T, user string) models.Document {
	t.Helper()
	rec := s.do(uploadRequest(t, "report.pdf", []byte("%PDF-1.4 test")), user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d body=%s", rec.Code, rec.Body)
	}
	var doc models.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestUploadStoresAndEmits(t *testing.T) {
	s := newTestServer(t, 100)
	doc := s.upload(t, "user-1")

	if doc.ProcessingStatus != models.DocStatusPending || doc.FileName != "report.pdf" || doc.UserID != "user-1" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.FileSizeBytes != int64(len("%PDF-1.4 test")) {
		t.Errorf("size = %d", doc.FileSizeBytes)
	}
	if len(s.emitter.emitted) != 1 || s.emitter.emitted[0] != doc.ID {
		t.Errorf("emitted = %v", s.emitter.emitted)
	}
}

func TestUploadWhenEmitFails(t *testing.T) {
	s := newTestServer(t, 100)
	s.emitter.err = errors.New("redis down")

	rec := s.do(uploadRequest(t, "a.pdf", []byte("data")), "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] == nil || body["document"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestRequestsNeedAUser(t *testing.T) {
	s := newTestServer(t, 100)
	rec := s.do(uploadRequest(t, "a.pdf", []byte("data")), "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDocumentsAreScopedToOwner(t *testing.T) {
	s := newTestServer(t, 100)
	doc := s.upload(t, "user-1")
	path := "/api/v1/documents/" + doc.ID.String()

	if rec := s.do(httptest.NewRequest(http.MethodGet, path, nil), "user-1"); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, path, nil), "user-2"); rec.Code != http.StatusNotFound {
		t.Errorf("other user status = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/not-a-uuid", nil), "user-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+uuid.NewString(), nil), "user-1"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
}

func TestIndexingStatusEndpoint(t *testing.T) {
	s := newTestServer(t, 100)
	doc := s.upload(t, "user-1")
	ctx := context.Background()

	run := uuid.New()
	s.store.ResetIndexing(ctx, doc.ID, document.ResetRequest{RunID: run, TotalChunks: 500, PriorityChunkCount: 100})
	s.store.RecordIndexedUnit(ctx, doc.ID, document.IndexedUnit{RunID: run, Key: "priority", Count: 100, Priority: true})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String()+"/indexing-status", nil), "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st status.IndexingStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.CanChat || st.PercentComplete != 20 || st.EstimatedTimeRemaining != 120 || st.Phase != models.RAGStatusPriorityComplete {
		t.Errorf("status = %+v", st)
	}
}

func TestProcessReemits(t *testing.T) {
	s := newTestServer(t, 100)
	doc := s.upload(t, "user-1")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/process", nil), "user-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(s.emitter.emitted) != 2 {
		t.Errorf("emitted %d times, want 2", len(s.emitter.emitted))
	}

	s.store.MarkProcessing(context.Background(), doc.ID)
	rec = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/documents/"+doc.ID.String()+"/process", nil), "user-1")
	if rec.Code != http.StatusConflict {
		t.Errorf("while processing status = %d", rec.Code)
	}
}

func TestReindexRules(t *testing.T) {
	s := newTestServer(t, 100)
	doc := s.upload(t, "user-1")
	ctx := context.Background()
	path := "/api/v1/documents/" + doc.ID.String() + "/reindex"

	if rec := s.do(httptest.NewRequest(http.MethodPost, path, nil), "user-1"); rec.Code != http.StatusConflict {
		t.Errorf("without text status = %d", rec.Code)
	}

	s.store.SaveExtraction(ctx, doc.ID, document.ExtractionRecord{Text: "hello world", Method: "pdf-parse", PageCount: 1})
	if rec := s.do(httptest.NewRequest(http.MethodPost, path, nil), "user-1"); rec.Code != http.StatusAccepted {
		t.Errorf("not started status = %d", rec.Code)
	}
	if len(s.reindexer.payloads) != 1 || s.reindexer.payloads[0].DocumentID != doc.ID.String() {
		t.Fatalf("payloads = %+v", s.reindexer.payloads)
	}

	run := uuid.New()
	s.store.ResetIndexing(ctx, doc.ID, document.ResetRequest{RunID: run, TotalChunks: 1})
	s.store.CompleteIndexing(ctx, doc.ID, run, 1)
	if rec := s.do(httptest.NewRequest(http.MethodPost, path, nil), "user-1"); rec.Code != http.StatusConflict {
		t.Errorf("completed without force status = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodPost, path+"?force=true", nil), "user-1"); rec.Code != http.StatusAccepted {
		t.Errorf("completed with force status = %d", rec.Code)
	}
}

func TestUploadsAreRateLimited(t *testing.T) {
	s := newTestServer(t, 2)

	for i := range 2 {
		rec := s.do(uploadRequest(t, "a.pdf", []byte("data")), "user-1")
		if rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != []string{"1", "0"}[i] {
			t.Errorf("request %d remaining = %q", i, got)
		}
	}

	rec := s.do(uploadRequest(t, "a.pdf", []byte("data")), "user-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Limits are per user; reads are never limited.
	if rec := s.do(uploadRequest(t, "a.pdf", []byte("data")), "user-2"); rec.Code != http.StatusCreated {
		t.Errorf("other user status = %d", rec.Code)
	}
	doc := s.upload(t, "user-3")
	for range 5 {
		if rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+doc.ID.String(), nil), "user-3"); rec.Code != http.StatusOK {
			t.Fatalf("read status = %d", rec.Code)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, 100)
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/readyz", nil), ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), ""); rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}
