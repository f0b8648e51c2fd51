package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Self-hosted OpenAI-compatible servers (vLLM, llama.cpp, LM Studio) ignore the bearer token
// but go-openai always sends one.
const placeholderAPIKey = "not-needed"

type openAIClient struct {
	api         *openai.Client
	model       string
	temperature float32
}

func newOpenAIClient(opts Options) *openAIClient {
	key := opts.APIKey
	if key == "" {
		key = placeholderAPIKey
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &openAIClient{
		api:         openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	history := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    history,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{Backend: "openai", Message: "completion has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func translateOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Backend: "openai", Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Backend: "openai", Status: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
