package textextract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nikhilbhutani/docingest/internal/models"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines  = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// ScrubNUL removes NUL bytes, which Postgres text columns reject.
func ScrubNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Normalize scrubs NUL bytes, collapses runs of inline whitespace to one
// space, limits blank lines to one and trims the result.
func Normalize(s string) string {
	s = ScrubNUL(s)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = inlineSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PageSeparator joins page texts in assembled documents.
const PageSeparator = "\n\n"

// AssemblePages normalizes each page, drops empty ones and joins the rest
// with PageSeparator. Offsets are rune offsets into the returned text.
func AssemblePages(raw []string) (string, []models.Page) {
	var (
		b      strings.Builder
		pages  []models.Page
		offset int
	)
	for i, r := range raw {
		text := Normalize(r)
		if text == "" {
			continue
		}
		if len(pages) > 0 {
			b.WriteString(PageSeparator)
			offset += utf8.RuneCountInString(PageSeparator)
		}
		n := utf8.RuneCountInString(text)
		pages = append(pages, models.Page{
			Number:      i + 1,
			Text:        text,
			StartOffset: offset,
			EndOffset:   offset + n,
		})
		b.WriteString(text)
		offset += n
	}
	return b.String(), pages
}

// CharCount is the length measure used by every acceptance threshold.
func CharCount(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
