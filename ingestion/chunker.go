package ingestion

import (
	"iter"
	"regexp"
	"strings"
	"unicode"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Passage is a chunk of text plus the number of leading tokens it repeats from the previous passage.
type Passage struct {
	Text          string
	OverlapTokens int
}

// Chunk splits text into sentence-aligned chunks of at most size whitespace tokens,
// seeding each chunk after the first with up to overlap trailing tokens of its predecessor.
// A single sentence longer than size is emitted as its own chunk.
// The returned sequence is lazy and can be ranged over more than once.
func Chunk(text string, size, overlap int) iter.Seq[string] {
	return func(yield func(string) bool) {
		for p := range Passages(text, size, overlap) {
			if !yield(p.Text) {
				return
			}
		}
	}
}

// Passages is Chunk with overlap bookkeeping.
// Dropping the first OverlapTokens tokens of every passage and joining the rest
// yields the whitespace-normalised input.
func Passages(text string, size, overlap int) iter.Seq[Passage] {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	return func(yield func(Passage) bool) {
		var (
			tokens  []string
			seeded  int
			pending bool
		)

		for _, sentence := range splitSentences(text) {
			words := strings.Fields(sentence)
			if len(words) == 0 {
				continue
			}

			if pending && len(tokens)+len(words) > size {
				if !yield(Passage{Text: strings.Join(tokens, " "), OverlapTokens: seeded}) {
					return
				}
				tail := min(overlap, max(0, size-len(words)), len(tokens))
				tokens = append([]string(nil), tokens[len(tokens)-tail:]...)
				seeded = tail
				pending = false
			}

			tokens = append(tokens, words...)
			pending = true
		}

		if pending {
			yield(Passage{Text: strings.Join(tokens, " "), OverlapTokens: seeded})
		}
	}
}

// splitSentences breaks text at blank lines and at '.', '!' or '?' followed by
// whitespace or the end of text. Trailing text without a terminator is kept.
func splitSentences(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var sentences []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	for _, paragraph := range paragraphBreak.Split(text, -1) {
		runes := []rune(paragraph)
		for i, r := range runes {
			b.WriteRune(r)
			if r != '.' && r != '!' && r != '?' {
				continue
			}
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
		flush()
	}

	return sentences
}
