package chat

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/fabfab/policy-rag/corpus"
)

//go:embed prompt_template.txt
var defaultTemplate string

const unknownDate = "unknown"

// DefaultTemplate is the prompt used when no template file is configured.
func DefaultTemplate() string {
	return defaultTemplate
}

// LoadTemplate reads a prompt template from path, or returns the built-in one when path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(data), nil
}

// Assembler fills a prompt template with retrieved chunks, prior questions and the current question.
type Assembler struct {
	template string
}

func NewAssembler(template string) *Assembler {
	if template == "" {
		template = defaultTemplate
	}
	return &Assembler{template: template}
}

// Assemble substitutes {history}, {documents} and {question} (or {query}) literally.
// Placeholders missing from the template are simply not filled.
func (a *Assembler) Assemble(chunks []corpus.Chunk, history []string, question string) string {
	return strings.NewReplacer(
		"{history}", FormatHistory(history),
		"{documents}", FormatDocuments(chunks),
		"{question}", question,
		"{query}", question,
	).Replace(a.template)
}

// FormatDocuments renders each chunk as a labeled block, in order, separated by a blank line.
func FormatDocuments(chunks []corpus.Chunk) string {
	blocks := make([]string, len(chunks))
	for i, ch := range chunks {
		date := ch.EffectiveDate
		if date == "" {
			date = unknownDate
		}
		blocks[i] = fmt.Sprintf("Document Name: %s\nEffective Date: %s\nContent: %s", ch.DocumentName, date, ch.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// FormatHistory renders prior user utterances oldest first, one per line.
func FormatHistory(history []string) string {
	lines := make([]string, 0, len(history))
	for _, q := range history {
		if strings.TrimSpace(q) == "" {
			continue
		}
		lines = append(lines, "User: "+q)
	}
	return strings.Join(lines, "\n")
}
