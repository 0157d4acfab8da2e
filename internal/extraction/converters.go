package extraction

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"

	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

// Docconv handles scraped and office content: html, docx, odt, rtf, xml.
type Docconv struct {
	Readability bool
}

func (Docconv) Name() string { return MethodDocconv }

func (d Docconv) Extract(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrCorruptFile)
	}
	mimeType := in.FileType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(in.FileName))
	}
	if mimeType == "" {
		mimeType = docconv.MimeTypeByExtension(in.FileName)
	}

	res, err := docconv.Convert(bytes.NewReader(in.Data), mimeType, d.Readability)
	if err != nil {
		return nil, fmt.Errorf("docconv %s: %w", mimeType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Text:   textextract.Normalize(res.Body),
		Method: MethodDocconv,
	}, nil
}

// PlainText passes text files through normalization.
type PlainText struct{}

func (PlainText) Name() string { return MethodPlainText }

func (PlainText) Extract(_ context.Context, in Input) (*Result, error) {
	text := string(in.Data)
	if strings.ContainsRune(text, 0) && bytes.Count(in.Data, []byte{0}) > len(in.Data)/10 {
		return nil, fmt.Errorf("%w: binary content declared as text", ErrCorruptFile)
	}
	return &Result{
		Text:   textextract.Normalize(text),
		Method: MethodPlainText,
	}, nil
}
