package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/docingest/internal/vision"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

var errEncryptedForVision = errors.New("vision backends reject encrypted PDFs")

// Vision sends the whole file to the OCR backend in one request.
type Vision struct {
	ocr vision.OCR
}

func NewVision(ocr vision.OCR) *Vision {
	return &Vision{ocr: ocr}
}

func (v *Vision) Name() string { return MethodVision }

func (v *Vision) Extract(ctx context.Context, in Input) (*Result, error) {
	// Not a short-circuit: the native tier may still open it with an empty password.
	if textextract.LooksEncrypted(in.Data) {
		return nil, errEncryptedForVision
	}
	text, err := v.ocr.ExtractPDF(ctx, in.Data)
	if err != nil {
		return nil, fmt.Errorf("%s ocr: %w", v.ocr.Name(), err)
	}
	return &Result{
		Text:   cleanOCR(text),
		Method: MethodVision,
	}, nil
}

// ChunkedVision splits the PDF into page ranges that each fit under the
// backend's request size cap and OCRs them concurrently. Any part failing
// fails the whole tier.
type ChunkedVision struct {
	ocr         vision.OCR
	maxPart     int64
	concurrency int
}

func NewChunkedVision(ocr vision.OCR, maxPartBytes int64, concurrency int) *ChunkedVision {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &ChunkedVision{ocr: ocr, maxPart: maxPartBytes, concurrency: concurrency}
}

func (v *ChunkedVision) Name() string { return MethodChunkedVision }

func (v *ChunkedVision) Extract(ctx context.Context, in Input) (*Result, error) {
	if textextract.LooksEncrypted(in.Data) {
		return nil, errEncryptedForVision
	}

	dir, err := os.MkdirTemp("", "docingest-split-")
	if err != nil {
		return nil, fmt.Errorf("create split dir: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(source, in.Data, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	pageCount, err := api.PageCountFile(source)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	span := PagesPerPart(in.size(), v.maxPart, pageCount)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.SplitFile(source, dir, span, conf); err != nil {
		return nil, fmt.Errorf("split PDF: %w", err)
	}

	parts, err := splitParts(dir, "source")
	if err != nil {
		return nil, err
	}
	slog.Debug("chunked vision split", "pages", pageCount, "span", span, "parts", len(parts))

	texts := make([]string, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, part := range parts {
		g.Go(func() error {
			data, err := os.ReadFile(part.path)
			if err != nil {
				return fmt.Errorf("read part %d: %w", part.firstPage, err)
			}
			text, err := v.ocr.ExtractPDF(gctx, data)
			if err != nil {
				return fmt.Errorf("%s ocr pages from %d: %w", v.ocr.Name(), part.firstPage, err)
			}
			texts[i] = cleanOCR(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{
		Text:      strings.Join(texts, textextract.PageSeparator),
		PageCount: pageCount,
		Method:    MethodChunkedVision,
	}, nil
}

// PagesPerPart returns ceil(pages / ceil(size / maxPart)), at least 1.
func PagesPerPart(size, maxPart int64, pages int) int {
	if pages <= 0 {
		return 1
	}
	parts := 1
	if maxPart > 0 {
		parts = int(math.Ceil(float64(size) / float64(maxPart)))
	}
	if parts < 1 {
		parts = 1
	}
	return max(1, int(math.Ceil(float64(pages)/float64(parts))))
}

type splitPart struct {
	path      string
	firstPage int
}

// splitParts lists the files pdfcpu wrote for base ("base_1-10.pdf" or
// "base_3.pdf") ordered by their first page.
func splitParts(dir, base string) ([]splitPart, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+"_*.pdf"))
	if err != nil {
		return nil, fmt.Errorf("list split parts: %w", err)
	}
	parts := make([]splitPart, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), base+"_"), ".pdf")
		first, _, _ := strings.Cut(name, "-")
		n, err := strconv.Atoi(first)
		if err != nil {
			continue
		}
		parts = append(parts, splitPart{path: m, firstPage: n})
	}
	if len(parts) == 0 {
		return nil, errors.New("split produced no parts")
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].firstPage < parts[j].firstPage })
	return parts, nil
}

func cleanOCR(s string) string {
	return strings.TrimSpace(textextract.ScrubNUL(s))
}
