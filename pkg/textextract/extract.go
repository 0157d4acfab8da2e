package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var (
	// ErrNotPDF is returned when the input does not carry a PDF header.
	ErrNotPDF = errors.New("missing %PDF header")
	// ErrPasswordRequired means the document only opens with a user password.
	ErrPasswordRequired = errors.New("PDF requires a password")
)

// ReadPages is PDFPages over an in-memory file, with one recovery: an
// encrypted file the reader cannot open (AES-256 among others) is decrypted
// with an empty user password and walked again. Files that need a real user
// password fail with ErrPasswordRequired.
func ReadPages(data []byte) (pages []string, numPages int, err error) {
	pages, numPages, err = PDFPages(bytes.NewReader(data), int64(len(data)))
	if err == nil || IsPasswordError(err) {
		return pages, numPages, err
	}
	if !LooksEncrypted(data) && !strings.Contains(strings.ToLower(err.Error()), "encryption") {
		return nil, 0, err
	}

	plain, derr := Decrypt(data)
	if derr != nil {
		if errors.Is(derr, ErrPasswordRequired) {
			return nil, 0, derr
		}
		return nil, 0, fmt.Errorf("%w; %v", err, derr)
	}
	return PDFPages(bytes.NewReader(plain), int64(len(plain)))
}

// Decrypt removes the encryption from a PDF whose user password is empty,
// which is every file protected by an owner password alone.
func Decrypt(data []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decrypt PDF: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var buf bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &buf, conf); err != nil {
		if errors.Is(err, pdfcpu.ErrWrongPassword) || IsPasswordError(err) {
			return nil, fmt.Errorf("%w: %v", ErrPasswordRequired, err)
		}
		return nil, fmt.Errorf("decrypt PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFPages walks every page of a PDF and returns the plain text of each page,
// in order, together with the page count reported by the document. Pages
// whose content stream cannot be decoded yield an empty string.
func PDFPages(data io.ReaderAt, size int64) (pages []string, numPages int, err error) {
	defer func() {
		// ledongthuc/pdf panics on some malformed xref tables.
		if r := recover(); r != nil {
			err = fmt.Errorf("open PDF: malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, 0, fmt.Errorf("open PDF: %w", err)
	}

	numPages = reader.NumPage()
	pages = make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		pages = append(pages, pageText(reader, i))
	}

	return pages, numPages, nil
}

func pageText(reader *pdf.Reader, i int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	page := reader.Page(i)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

// HasPDFHeader reports whether the %PDF- marker appears in the first KiB,
// which is where readers are required to look for it.
func HasPDFHeader(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// LooksEncrypted reports whether the PDF trailer references an /Encrypt dictionary.
func LooksEncrypted(data []byte) bool {
	const window = 64 << 10
	tail := data
	if len(tail) > window {
		tail = tail[len(tail)-window:]
	}
	if bytes.Contains(tail, []byte("/Encrypt")) {
		return true
	}
	// Linearized files carry their first-page trailer near the start.
	head := data
	if len(head) > window {
		head = head[:window]
	}
	return bytes.Contains(head, []byte("/Encrypt"))
}

// IsPasswordError reports whether an error message indicates the document
// needs a password that was not supplied.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pdf.ErrInvalidPassword) || errors.Is(err, ErrPasswordRequired) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypted pdf")
}
