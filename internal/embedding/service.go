package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Service struct {
	client *openai.Client
	model  string
}

func NewService(apiKey, model string) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Service{client: openai.NewClient(apiKey), model: model}
}

func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Batch in groups of 100 for API limits
	const batchSize = 100
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		batch := texts[i:min(i+batchSize, len(texts))]

		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(s.model),
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i/batchSize, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embed batch %d: got %d vectors for %d inputs", i/batchSize, len(resp.Data), len(batch))
		}

		// Data carries its own index; do not assume response order.
		vecs := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embed batch %d: index %d out of range", i/batchSize, d.Index)
			}
			vecs[d.Index] = d.Embedding
		}
		all = append(all, vecs...)
	}

	return all, nil
}
