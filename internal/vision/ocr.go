package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/nikhilbhutani/docingest/internal/config"
)

// OCR turns a whole PDF into text with a vision-capable model.
type OCR interface {
	Name() string
	ExtractPDF(ctx context.Context, pdf []byte) (string, error)
}

const extractPrompt = "Extract ALL text from this PDF document, page by page and in reading order. " +
	"Return only the text content, preserving paragraphs and headings. " +
	"Transcribe tables row by row. Do not summarize, translate or add commentary."

// New builds the configured backend. It returns nil, nil when vision is
// disabled or no key is available, which callers treat as "tier not configured".
func New(ctx context.Context, cfg config.LLMConfig) (OCR, error) {
	switch strings.ToLower(cfg.VisionProvider) {
	case "", "none":
		return nil, nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, nil
		}
		g, err := NewGemini(ctx, cfg.GeminiKey, cfg.VisionModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, nil
		}
		return NewAnthropic(cfg.AnthropicKey, cfg.VisionModel), nil
	default:
		return nil, fmt.Errorf("unknown VISION_PROVIDER %q", cfg.VisionProvider)
	}
}
