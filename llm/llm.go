// Package llm talks to the chat model that writes answers and, optionally, translates prompts.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fabfab/policy-rag/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	defaultTimeout    = 2 * time.Minute
)

type Message struct {
	Role    string
	Content string
}

// Client is a chat-completion backend.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configure a Client. BaseURL has already been resolved for the provider.
type Options struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration

	Temperature float64
	// ContextWindow is only honoured by Ollama; 0 keeps the server default.
	ContextWindow int
}

// APIError is a non-2xx reply or an error payload from a model server.
type APIError struct {
	Backend string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Status, e.Message)
}

// Temporary reports whether retrying the same request might succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// OptionsFromConfig picks the endpoint for the configured provider. llm.base_url wins over
// the provider-wide OLLAMA_HOST / OPENAI_BASE_URL.
func OptionsFromConfig(cfg config.Config) Options {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		BaseURL:       cfg.LLM.BaseURL,
		Timeout:       cfg.LLM.Timeout,
		Temperature:   cfg.LLM.Temperature,
		ContextWindow: cfg.LLM.ContextWindow,
	}
	switch opts.Provider {
	case config.ProviderOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.OllamaHost
		}
	case config.ProviderOpenAI:
		opts.APIKey = cfg.OpenAIAPIKey
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.OpenAIBaseURL
		}
	}
	return opts
}

func NewClient(cfg config.Config) (Client, error) {
	return New(OptionsFromConfig(cfg))
}

func New(opts Options) (Client, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("llm model not set")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	switch opts.Provider {
	case config.ProviderOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = defaultOllamaHost
		}
		return newOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.APIKey == "" && opts.BaseURL == "" {
			return nil, fmt.Errorf("openai provider needs OPENAI_API_KEY or a base URL")
		}
		return newOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", opts.Provider)
	}
}
