// Package nativepdf is the robust out-of-process PDF text extractor. It is
// run by cmd/pdftext and speaks a one-object JSON protocol on stdout.
package nativepdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

const Method = "native-parser"

// MinChars is the minimum extracted length before a document is considered
// text-bearing rather than scanned.
const MinChars = 100

// Output is the JSON object written to stdout.
type Output struct {
	Success   bool          `json:"success"`
	Text      string        `json:"text,omitempty"`
	PageCount int           `json:"pageCount,omitempty"`
	Pages     []models.Page `json:"pages,omitempty"`
	Method    string        `json:"method,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Error strings the caller classifies on.
const (
	ErrMsgScanned   = "extracted text too short, might be a scanned document"
	ErrMsgPassword  = "PDF is password protected"
	ErrMsgCorrupt   = "Invalid or corrupted PDF file"
	ErrMsgEmptyFile = "empty file"
)

var errPassword = errors.New("password required")

// Extract reads path and never returns an error: every failure is reported
// in the Output.
func Extract(path string) Output {
	data, err := os.ReadFile(path)
	if err != nil {
		return Output{Error: fmt.Sprintf("read file: %v", err)}
	}
	if len(data) == 0 {
		return Output{Error: ErrMsgEmptyFile}
	}
	if !textextract.HasPDFHeader(data) {
		return Output{Error: ErrMsgCorrupt}
	}

	raw, pageCount, err := walk(data)
	if err != nil {
		raw, pageCount, err = recoverAndWalk(path, err)
	}
	if err != nil {
		if errors.Is(err, errPassword) {
			return Output{Error: ErrMsgPassword}
		}
		return Output{Error: fmt.Sprintf("%s: %v", ErrMsgCorrupt, err)}
	}

	text, pages := textextract.AssemblePages(raw)
	if textextract.CharCount(text) < MinChars {
		return Output{PageCount: pageCount, Method: Method, Error: ErrMsgScanned}
	}

	return Output{
		Success:   true,
		Text:      text,
		PageCount: pageCount,
		Pages:     pages,
		Method:    Method,
	}
}

func walk(data []byte) ([]string, int, error) {
	pages, n, err := textextract.ReadPages(data)
	if err != nil {
		if textextract.IsPasswordError(err) {
			return nil, 0, fmt.Errorf("%w: %v", errPassword, err)
		}
		return nil, 0, err
	}
	return pages, n, nil
}

// recoverAndWalk rewrites the file with pdfcpu under relaxed validation,
// which rebuilds broken xref tables, and walks the rewritten copy. Encrypted
// files were already decrypted with an empty user password by the walk, so a
// password failure is final.
func recoverAndWalk(path string, cause error) ([]string, int, error) {
	if errors.Is(cause, errPassword) {
		return nil, 0, cause
	}

	dir, err := os.MkdirTemp("", "pdftext-")
	if err != nil {
		return nil, 0, cause
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "rewritten.pdf")
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.OptimizeFile(path, out, conf); err != nil {
		if isPDFCPUPasswordError(err) {
			return nil, 0, fmt.Errorf("%w: %v", errPassword, err)
		}
		return nil, 0, fmt.Errorf("%v; repair: %w", cause, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, 0, fmt.Errorf("read rewritten file: %w", err)
	}
	return walk(data)
}

func isPDFCPUPasswordError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}
