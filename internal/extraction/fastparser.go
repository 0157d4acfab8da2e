package extraction

import (
	"context"
	"fmt"

	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

// FastParser reads the PDF in-process with ledongthuc/pdf.
type FastParser struct{}

func (FastParser) Name() string { return MethodFastParser }

func (FastParser) Extract(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 || !textextract.HasPDFHeader(in.Data) {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, textextract.ErrNotPDF)
	}

	type walked struct {
		pages []string
		n     int
		err   error
	}
	// The reader cannot be interrupted, so the walk runs in its own goroutine
	// and the tier gives up on it when ctx ends.
	done := make(chan walked, 1)
	go func() {
		pages, n, err := textextract.ReadPages(in.Data)
		done <- walked{pages, n, err}
	}()

	var w walked
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fast parser: %w", ctx.Err())
	case w = <-done:
	}

	if w.err != nil {
		if textextract.IsPasswordError(w.err) {
			return nil, fmt.Errorf("%w: %v", ErrEncryptedDocument, w.err)
		}
		return nil, w.err
	}

	text, pages := textextract.AssemblePages(w.pages)
	return &Result{
		Text:      text,
		PageCount: w.n,
		Pages:     pages,
		Method:    MethodFastParser,
	}, nil
}
