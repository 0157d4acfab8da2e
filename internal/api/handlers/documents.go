package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/docingest/internal/auth"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/status"
)

const maxUploadBytes = 512 << 20

// Reindexer emits document/index-v2.
type Reindexer interface {
	EnqueueIndexV2(ctx context.Context, p queue.IndexV2Payload) error
}

type DocumentHandler struct {
	svc       *document.Service
	status    *status.Service
	reindexer Reindexer
}

func NewDocumentHandler(svc *document.Service, st *status.Service, reindexer Reindexer) *DocumentHandler {
	return &DocumentHandler{svc: svc, status: st, reindexer: reindexer}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB in memory, rest on disk
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	doc, err := h.svc.Upload(r.Context(), document.UploadRequest{
		UserID:   auth.UserIDFromContext(r.Context()),
		FileName: header.Filename,
		FileType: header.Header.Get("Content-Type"),
		Data:     file,
	})
	if err != nil {
		if doc != nil {
			// Stored but not queued; the client can retry /process.
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"document": doc,
				"error":    "document stored but processing could not be queued",
			})
			return
		}
		slog.Error("upload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upload failed"})
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Process re-emits document/process, e.g. after a failed or lost event.
func (h *DocumentHandler) Process(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	if doc.ProcessingStatus == models.DocStatusProcessing {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "document is already processing"})
		return
	}

	if _, err := h.svc.Reprocess(r.Context(), doc.ID); err != nil {
		slog.Error("reprocess failed", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue processing"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID.String(), "status": "queued"})
}

func (h *DocumentHandler) IndexingStatus(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.status.Derive(doc))
}

// Reindex restarts indexing from zero. Completed documents need force=true.
func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.load(w, r)
	if !ok {
		return
	}
	if doc.ExtractedText == nil || *doc.ExtractedText == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "document has no extracted text"})
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	switch doc.Indexing.Status {
	case models.RAGStatusFailed, models.RAGStatusNotStarted:
	case models.RAGStatusCompleted:
		if !force {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "document is already indexed; pass force=true to rebuild"})
			return
		}
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "indexing is in progress"})
		return
	}

	if err := h.reindexer.EnqueueIndexV2(r.Context(), queue.IndexV2Payload{
		DocumentID: doc.ID.String(),
		UserID:     doc.UserID,
	}); err != nil {
		slog.Error("reindex enqueue failed", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not queue indexing"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID.String(), "status": "queued"})
}

// load fetches the document named in the URL, hiding other users' documents.
func (h *DocumentHandler) load(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document ID"})
		return nil, false
	}

	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
			return nil, false
		}
		slog.Error("get document failed", "document_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load document"})
		return nil, false
	}
	if doc.UserID != auth.UserIDFromContext(r.Context()) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return nil, false
	}
	return doc, true
}
