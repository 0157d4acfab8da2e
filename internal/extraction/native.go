package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/nikhilbhutani/docingest/internal/nativepdf"
)

// NativeParser runs the pdftext binary on a temp copy of the input. Running
// it out of process keeps parser crashes and memory spikes away from the
// worker.
type NativeParser struct {
	Command string
	Args    []string // prepended to the file path
	Env     []string // extra environment, mainly for tests
}

func NewNativeParser(command string) *NativeParser {
	return &NativeParser{Command: command}
}

func (p *NativeParser) Name() string { return MethodNativeParser }

func (p *NativeParser) Extract(ctx context.Context, in Input) (*Result, error) {
	tmp, err := os.CreateTemp("", "docingest-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(in.Data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	out, err := p.invoke(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}

	if !out.Success {
		return nil, classifyNativeError(out.Error)
	}
	return &Result{
		Text:      out.Text,
		PageCount: out.PageCount,
		Pages:     out.Pages,
		Method:    MethodNativeParser,
	}, nil
}

// invoke runs the subprocess and decodes its single JSON object. A non-zero
// exit still carries a JSON body describing the failure.
func (p *NativeParser) invoke(ctx context.Context, path string) (*nativepdf.Output, error) {
	args := append(append([]string{}, p.Args...), path)
	cmd := exec.CommandContext(ctx, p.Command, args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("native parser: %w", ctx.Err())
	}

	var out nativepdf.Output
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("native parser: %w (stderr: %s)", runErr, tail(stderr.String(), 512))
		}
		return nil, fmt.Errorf("native parser returned invalid JSON: %w", err)
	}
	if runErr != nil && out.Success {
		return nil, fmt.Errorf("native parser reported success but exited: %w", runErr)
	}
	return &out, nil
}

func classifyNativeError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "password") || strings.Contains(lower, "encrypted"):
		return fmt.Errorf("%w: %s", ErrEncryptedDocument, msg)
	case strings.Contains(lower, "corrupt") || strings.Contains(lower, "empty file"):
		return fmt.Errorf("%w: %s", ErrCorruptFile, msg)
	case strings.Contains(lower, "scanned"):
		return fmt.Errorf("%w: %s", ErrInsufficientYield, msg)
	case msg == "":
		return errors.New("native parser failed without a message")
	default:
		return errors.New(msg)
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
