package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service caches embeddings by content so repeated text is embedded once
type Service struct {
	embedder Embedder
	cache    sync.Map // Thread-safe map for caching embeddings
}

// NewService wraps embedder with a cache
func NewService(embedder Embedder) *Service {
	return &Service{embedder: embedder}
}

// Embed returns the cached embedding for content or asks the embedder
func (s *Service) Embed(ctx context.Context, content string) ([]float32, error) {
	if cached, ok := s.cache.Load(content); ok {
		if embedding, valid := cached.([]float32); valid {
			return embedding, nil
		}
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	s.cache.Store(content, embedding)
	return embedding, nil
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates an embedder producing vectors of dim dimensions
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) *OpenAIEmbedder {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    dim,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dim > 0 {
		params.Dimensions = openai.Int(int64(e.dim))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embed: no embedding returned")
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
