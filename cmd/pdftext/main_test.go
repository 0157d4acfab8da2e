package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nikhilbhutani/docingest/internal/testpdf"
)

func TestRunWritesOneJSONObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.pdf")
	data := testpdf.Build([][]string{testpdf.Lines("Contract", 4)})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	if code := run([]string{path}, &stdout); code != 0 {
		t.Fatalf("exit code = %d, output %s", code, stdout.String())
	}

	var got map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("stdout is not JSON: %v", err)
	}
	if got["success"] != true || got["method"] != "native-parser" {
		t.Errorf("unexpected result %v", got)
	}
	if got["pageCount"] != float64(1) {
		t.Errorf("pageCount = %v", got["pageCount"])
	}
	if _, ok := got["pages"].([]any); !ok {
		t.Errorf("pages missing: %v", got)
	}
}

func TestRunFailureExitsNonZero(t *testing.T) {
	var stdout bytes.Buffer
	if code := run(nil, &stdout); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), `"success":false`) || !strings.Contains(stdout.String(), "usage") {
		t.Errorf("unexpected output %s", stdout.String())
	}
}
