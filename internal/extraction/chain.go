package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/metrics"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

// Chain tries the routed tiers in order and returns the first accepted result.
type Chain struct {
	cfg        config.ExtractionConfig
	routes     []Route
	strategies map[string]Strategy
	logger     *slog.Logger
}

// NewChain registers strategies by name. Tiers whose strategy is not
// registered are skipped, which is how an unconfigured vision backend is
// handled.
func NewChain(cfg config.ExtractionConfig, strategies ...Strategy) *Chain {
	c := &Chain{
		cfg:        cfg,
		routes:     Routes(cfg),
		strategies: make(map[string]Strategy, len(strategies)),
		logger:     slog.Default().With("component", "extraction"),
	}
	for _, s := range strategies {
		if s != nil {
			c.strategies[s.Name()] = s
		}
	}
	return c
}

// Extract runs the chain. Errors are one of:
//   - ErrEncryptedDocument or ErrCorruptFile, as soon as any tier detects them
//   - ErrInsufficientYield when at least one tier ran and every result fell short
//   - ErrServiceUnavailable when no tier ran to completion
//   - the context error when ctx ends
func (c *Chain) Extract(ctx context.Context, in Input) (*Result, error) {
	size := in.size()
	plan := Plan(c.routes, in)

	var (
		tierErrs   []error
		underYield bool
		attempted  int
	)
	for _, tier := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, ok := c.strategies[tier.Strategy]
		if !ok {
			c.logger.Debug("tier not configured, skipping", "method", tier.Strategy, "file", in.FileName)
			continue
		}
		attempted++

		res, err := c.runTier(ctx, s, in)
		if err != nil {
			if errors.Is(err, ErrEncryptedDocument) || errors.Is(err, ErrCorruptFile) {
				c.logger.Info("extraction short-circuited", "method", s.Name(), "file", in.FileName, "error", err)
				return nil, &TierError{Method: s.Name(), Err: err}
			}
			if errors.Is(err, ErrInsufficientYield) {
				underYield = true
			}
			c.logger.Warn("extraction tier failed", "method", s.Name(), "size", size, "error", err)
			tierErrs = append(tierErrs, &TierError{Method: s.Name(), Err: err})
			continue
		}

		if need := c.minChars(s.Name(), size); textextract.CharCount(res.Text) < need {
			underYield = true
			c.logger.Warn("extraction tier under-yielded",
				"method", s.Name(), "size", size,
				"chars", textextract.CharCount(res.Text), "required", need)
			tierErrs = append(tierErrs, &TierError{
				Method: s.Name(),
				Err:    fmt.Errorf("%w: %d chars, need %d", ErrInsufficientYield, textextract.CharCount(res.Text), need),
			})
			continue
		}

		if res.Method == "" {
			res.Method = s.Name()
		}
		c.logger.Info("extraction succeeded", "method", res.Method, "size", size, "pages", res.PageCount)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if underYield {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientYield, errors.Join(tierErrs...))
	}
	if attempted == 0 {
		return nil, fmt.Errorf("%w: no extraction tier configured for %q (%d bytes)", ErrServiceUnavailable, in.FileName, size)
	}
	return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, errors.Join(tierErrs...))
}

func (c *Chain) runTier(ctx context.Context, s Strategy, in Input) (res *Result, err error) {
	tctx := ctx
	if d := c.timeout(s.Name()); d > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tier panicked: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.RecordExtraction(s.Name(), outcome, time.Since(start))
	}()

	res, err = s.Extract(tctx, in)
	if err == nil && res == nil {
		err = errors.New("tier returned no result")
	}
	return res, err
}

// minChars is the acceptance threshold: more than MinTextChars for every
// tier, and for vision tiers a yield proportional to the file size.
func (c *Chain) minChars(method string, size int64) int {
	need := c.cfg.MinTextChars + 1
	if method == MethodVision || method == MethodChunkedVision {
		if v := c.VisionMinYield(size); v > need {
			need = v
		}
	}
	return need
}

// VisionMinYield is max(VisionMinYieldChars, size*VisionYieldPerByte).
func (c *Chain) VisionMinYield(size int64) int {
	proportional := int(math.Ceil(float64(size) * c.cfg.VisionYieldPerByte))
	return max(c.cfg.VisionMinYieldChars, proportional)
}

func (c *Chain) timeout(method string) time.Duration {
	switch method {
	case MethodNativeParser:
		return c.cfg.NativeParserTimeout
	case MethodVision:
		return c.cfg.VisionTimeout
	case MethodChunkedVision:
		return c.cfg.ChunkedVisionTimeout
	default:
		return c.cfg.FastParserTimeout
	}
}
