package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Sent to OpenAI-compatible servers that run without authentication.
const placeholderAPIKey = "not-needed"

type openAIEmbedder struct {
	api       *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

func newOpenAIEmbedder(opts Options) *openAIEmbedder {
	key := opts.APIKey
	if key == "" {
		key = placeholderAPIKey
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: providerTimeout}

	return &openAIEmbedder{
		api:       openai.NewClientWithConfig(cfg),
		model:     openai.EmbeddingModel(opts.Model),
		dimension: opts.Dimension,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:          e.model,
		Input:          texts,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     e.dimension,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai embeddings: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	// Each datum carries its input position; servers are not required to keep order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	if err := checkVectors("openai", vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}
