package rerank

import (
	"context"
	"math"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// LexicalScorer ranks by the Ochiai coefficient of query and passage word sets,
// |A∩B| / sqrt(|A||B|). It needs no model and serves as an offline fallback.
type LexicalScorer struct{}

func (LexicalScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := wordSet(query)
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = ochiai(q, wordSet(p))
	}
	return scores, nil
}

func wordSet(s string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	return float64(shared) / math.Sqrt(float64(len(a))*float64(len(b)))
}

var _ Scorer = LexicalScorer{}
