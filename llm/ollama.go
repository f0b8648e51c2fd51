package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ollamaClient struct {
	url     string
	model   string
	options ollamaOptions
	http    *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func newOllamaClient(opts Options) *ollamaClient {
	return &ollamaClient{
		url:   opts.BaseURL + "/api/chat",
		model: opts.Model,
		options: ollamaOptions{
			Temperature: opts.Temperature,
			NumCtx:      opts.ContextWindow,
		},
		http: &http.Client{Timeout: opts.Timeout},
	}
}

// Generate runs one non-streaming /api/chat turn.
func (c *ollamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	payload := ollamaRequest{
		Model:    c.model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Options:  c.options,
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("encode ollama chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return "", fmt.Errorf("build ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := &APIError{Backend: "ollama", Status: resp.StatusCode, Message: resp.Status}
		// Ollama reports failures as {"error": "..."}; anything else is passed through raw.
		var parsed ollamaResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
		} else if msg := strings.TrimSpace(string(raw)); msg != "" {
			apiErr.Message = msg
		}
		return "", apiErr
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", &APIError{Backend: "ollama", Message: parsed.Error}
	}
	return parsed.Message.Content, nil
}
