package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docingest/internal/cache"
)

// Cached skips the embedding call for texts embedded recently with the same
// model. Retried and redelivered index units hit this path. Cache errors
// degrade to a full embed.
type Cached struct {
	next  Embedder
	cache *cache.Cache
	model string
	ttl   time.Duration
}

func NewCached(next Embedder, c *cache.Cache, model string, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, model: model, ttl: ttl}
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return c.model + ":" + hex.EncodeToString(sum[:])
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	out := make([][]float32, len(texts))
	found, err := c.cache.GetMany(ctx, keys, func(i int, raw []byte) error {
		return json.Unmarshal(raw, &out[i])
	})
	if err != nil {
		slog.Warn("embedding cache read failed", "error", err)
		found = make([]bool, len(texts))
		clear(out)
	}

	var (
		missIdx   []int
		missTexts []string
	)
	for i, hit := range found {
		if !hit {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]interface{}, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		entries[keys[i]] = vecs[j]
	}
	if err := c.cache.SetMany(ctx, entries, c.ttl); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
	return out, nil
}
