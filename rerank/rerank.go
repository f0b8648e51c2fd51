// Package rerank reorders retrieved chunks by query relevance and keeps the best few.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/ragerr"
)

// Scorer returns one relevance score per passage for query. Higher is more relevant.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker applies a Scorer and truncates to TopM. A nil scorer keeps retrieval order.
type Reranker struct {
	scorer Scorer
	topM   int
}

func New(scorer Scorer, topM int) *Reranker {
	return &Reranker{scorer: scorer, topM: topM}
}

// Rerank returns at most topM of hits, ordered by descending score.
// Equal scores keep their retrieval order. The input slice is not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []corpus.Hit) ([]corpus.Hit, error) {
	limit := r.topM
	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	if r.scorer == nil {
		return append([]corpus.Hit(nil), hits[:limit]...), nil
	}

	passages := make([]string, len(hits))
	for i := range hits {
		passages[i] = hits[i].Chunk.Text
	}

	scores, err := r.scorer.Score(ctx, query, passages)
	if err != nil {
		return nil, ragerr.New(ragerr.KindRerank, "score passages", err)
	}
	if len(scores) != len(hits) {
		return nil, ragerr.New(ragerr.KindRerank, "score passages",
			fmt.Errorf("scorer returned %d scores for %d passages", len(scores), len(hits)))
	}

	order := make([]int, len(hits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]corpus.Hit, limit)
	for i := 0; i < limit; i++ {
		out[i] = hits[order[i]]
	}
	return out, nil
}
