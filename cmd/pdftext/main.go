// Command pdftext extracts the text of one PDF and writes a single JSON object
// to stdout. It exits 0 on success and 1 otherwise.
//
//	pdftext /tmp/upload.pdf
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/nikhilbhutani/docingest/internal/nativepdf"
)

func main() {
	// stdout carries the result, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	var out nativepdf.Output
	if len(args) != 1 {
		out = nativepdf.Output{Error: "usage: pdftext <file.pdf>"}
	} else {
		out = nativepdf.Extract(args[0])
	}

	if err := json.NewEncoder(stdout).Encode(out); err != nil {
		slog.Error("failed to write result", "error", err)
		return 1
	}
	if !out.Success {
		return 1
	}
	return 0
}
