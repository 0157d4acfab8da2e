package extraction

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

// Method tags recorded as the document's extraction_method.
const (
	MethodFastParser    = "pdf-parse"
	MethodNativeParser  = "native-parser"
	MethodVision        = "vision-ocr"
	MethodChunkedVision = "vision-ocr-chunked"
	MethodDocconv       = "docconv"
	MethodPlainText     = "plain-text"
)

// Input is one document to extract.
type Input struct {
	Data     []byte
	FileName string
	FileType string
	Size     int64 // declared size; falls back to len(Data)
}

func (in Input) size() int64 {
	if in.Size > 0 {
		return in.Size
	}
	return int64(len(in.Data))
}

// IsPDF decides routing between the PDF tiers and the generic converters.
func (in Input) IsPDF() bool {
	if strings.EqualFold(in.FileType, "application/pdf") {
		return true
	}
	if strings.EqualFold(filepath.Ext(in.FileName), ".pdf") {
		return true
	}
	return in.FileType == "" && textextract.HasPDFHeader(in.Data)
}

// IsPlainText reports inputs the plain-text tier handles directly.
func (in Input) IsPlainText() bool {
	ft := strings.ToLower(in.FileType)
	if strings.HasPrefix(ft, "text/plain") || ft == "text/markdown" {
		return true
	}
	switch strings.ToLower(filepath.Ext(in.FileName)) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// Result is produced by exactly one strategy; results are never merged.
type Result struct {
	Text      string
	PageCount int
	Pages     []models.Page
	Method    string
}

// Strategy is one extraction tier.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, in Input) (*Result, error)
}
