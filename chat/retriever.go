package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/index"
	"github.com/fabfab/policy-rag/ragerr"
)

const defaultTopN = 20

// QueryEmbedder embeds a live query with the same configuration used for the corpus.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever fetches the nearest chunks for a query from one collection.
type Retriever struct {
	embedder   QueryEmbedder
	index      index.Index
	collection string
	topN       int
}

func NewRetriever(embedder QueryEmbedder, idx index.Index, collection string, topN int) *Retriever {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Retriever{embedder: embedder, index: idx, collection: collection, topN: topN}
}

// Retrieve lowercases query, embeds it and returns up to topN hits, closest first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]corpus.Hit, error) {
	if r.embedder == nil || r.index == nil {
		return nil, ragerr.New(ragerr.KindRetrieval, "retrieve", fmt.Errorf("retriever is not configured"))
	}

	vector, err := r.embedder.EmbedQuery(ctx, strings.ToLower(query))
	if err != nil {
		return nil, ragerr.Ensure(ragerr.KindEmbedding, "embed query", err)
	}

	hits, err := r.index.Query(ctx, r.collection, vector, r.topN)
	if err != nil {
		// A query vector of the wrong size is a corpus/config mismatch, not an outage.
		if errors.Is(err, index.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, ragerr.New(ragerr.KindRetrieval, "query index", err)
	}
	return hits, nil
}
