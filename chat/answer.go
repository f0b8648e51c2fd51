package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fabfab/policy-rag/config"
	"github.com/fabfab/policy-rag/llm"
	"github.com/fabfab/policy-rag/ragerr"
)

// AnswerGenerator sends the final prompt to the LLM and appends the disclaimer as its own paragraph.
type AnswerGenerator struct {
	client     llm.Client
	disclaimer string
	timeout    time.Duration
}

// NewAnswerGenerator builds a generator. An empty disclaimer uses config.DefaultDisclaimer;
// a zero timeout leaves the deadline to ctx.
func NewAnswerGenerator(client llm.Client, disclaimer string, timeout time.Duration) *AnswerGenerator {
	disclaimer = strings.TrimSpace(disclaimer)
	if disclaimer == "" {
		disclaimer = config.DefaultDisclaimer
	}
	return &AnswerGenerator{client: client, disclaimer: disclaimer, timeout: timeout}
}

// Generate returns the model's answer followed by the disclaimer. No partial answer is
// returned on failure.
func (g *AnswerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", ragerr.New(ragerr.KindGeneration, "generate", errors.New("llm client is not configured"))
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.client.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", ragerr.New(ragerr.KindGeneration, "llm generate", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ragerr.New(ragerr.KindGeneration, "llm generate", fmt.Errorf("empty response"))
	}
	return out + "\n\n" + g.disclaimer, nil
}
