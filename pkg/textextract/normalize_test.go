package textextract

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"nul bytes", "a\x00b\x00", "ab"},
		{"inline runs", "one  two\t\tthree\r\nfour", "one two three \nfour"},
		{"blank lines", "para one\n\n\n\n\npara two", "para one\n\npara two"},
		{"spaced blank lines", "a\n \n\t\n \nb", "a\n\nb"},
		{"invalid utf8", "ok\xffok", "okok"},
		{"trim", "  \n text \n ", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAssemblePagesOffsets(t *testing.T) {
	text, pages := AssemblePages([]string{"First  page", "", "Sécond\x00 page", "third"})

	if text != "First page\n\nSécond page\n\nthird" {
		t.Fatalf("text = %q", text)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages", len(pages))
	}
	if pages[1].Number != 3 {
		t.Errorf("empty page should keep numbering, got %d", pages[1].Number)
	}
	runes := []rune(text)
	for _, p := range pages {
		if got := string(runes[p.StartOffset:p.EndOffset]); got != p.Text {
			t.Errorf("page %d offsets select %q, want %q", p.Number, got, p.Text)
		}
	}
}

func TestCharCount(t *testing.T) {
	if got := CharCount("  héllo \n"); got != 5 {
		t.Errorf("CharCount = %d", got)
	}
}

func TestHeaderAndEncryptionSniffing(t *testing.T) {
	if !HasPDFHeader([]byte("\n%PDF-1.4\n")) {
		t.Error("header not found")
	}
	if HasPDFHeader(append([]byte(strings.Repeat(" ", 2048)), "%PDF-"...)) {
		t.Error("header beyond the first KiB must not count")
	}
	if !LooksEncrypted([]byte("%PDF-1.6 ... trailer << /Encrypt 12 0 R >>")) {
		t.Error("encrypt trailer not detected")
	}
	if LooksEncrypted([]byte("%PDF-1.6 plain")) {
		t.Error("false positive")
	}
}
