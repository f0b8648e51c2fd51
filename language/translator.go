package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/fabfab/policy-rag/llm"
)

// Translator renders text from one language into another. Codes are ISO 639-1.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// LibreTranslator talks to a LibreTranslate compatible POST /translate endpoint.
type LibreTranslator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func NewLibreTranslator(endpoint, apiKey string) *LibreTranslator {
	return &LibreTranslator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *LibreTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(libreRequest{Q: text, Source: source, Target: target, Format: "text", APIKey: t.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call translate API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read translate response: %w", err)
	}

	var parsed libreResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode translate response (status %s): %w", resp.Status, err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("translate API error: %s", parsed.Error)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("translate API returned status %s", resp.Status)
	}
	return parsed.TranslatedText, nil
}

// LLMTranslator asks the generation model to translate.
type LLMTranslator struct {
	client llm.Client
}

func NewLLMTranslator(client llm.Client) *LLMTranslator {
	return &LLMTranslator{client: client}
}

func (t *LLMTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if t.client == nil {
		return "", errors.New("llm client is not configured")
	}

	instruction := fmt.Sprintf(
		"Translate the user's text from %s to %s. Preserve line breaks and placeholders. Reply with the translation only.",
		displayName(source), displayName(target))

	out, err := t.client.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: instruction},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("llm translate: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("llm translate returned empty output")
	}
	return out, nil
}

func displayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

var (
	_ Translator = (*LibreTranslator)(nil)
	_ Translator = (*LLMTranslator)(nil)
)
