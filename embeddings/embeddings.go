// Package embeddings produces the vectors that both chunks and queries are compared by.
package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/policy-rag/config"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	providerTimeout   = time.Minute
)

// Embedder turns texts into vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options describe one provider endpoint.
type Options struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	// Dimension asks the provider to truncate vectors; only OpenAI text-embedding-3 honours it.
	Dimension int
}

func OptionsFromConfig(cfg config.Config) Options {
	opts := Options{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
	}
	switch opts.Provider {
	case config.ProviderOllama:
		opts.BaseURL = cfg.OllamaHost
	case config.ProviderOpenAI:
		opts.BaseURL = cfg.OpenAIBaseURL
		opts.APIKey = cfg.OpenAIAPIKey
	}
	return opts
}

// NewEmbedder returns the raw provider client selected by cfg.
// Callers normally wrap it in a Generator.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	return New(OptionsFromConfig(cfg))
}

func New(opts Options) (Embedder, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("embedding model not set")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	switch opts.Provider {
	case config.ProviderOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = defaultOllamaHost
		}
		return newOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.APIKey == "" && opts.BaseURL == "" {
			return nil, fmt.Errorf("openai embeddings need OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return newOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Provider)
	}
}

// checkVectors rejects responses that cannot line up with the request.
func checkVectors(provider string, vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%s returned %d embeddings for %d inputs", provider, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%s returned an empty embedding for input %d", provider, i)
		}
	}
	return nil
}
