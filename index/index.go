// Package index stores chunk embeddings in named, versioned collections and answers
// nearest-neighbour queries by cosine distance.
//
// A rebuild writes a complete new version and then repoints the collection to it in one
// transaction, so readers observe either the previous contents or the new ones.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/policy-rag/corpus"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

type Index interface {
	// Rebuild replaces the collection's contents with chunks, all or nothing.
	Rebuild(ctx context.Context, collection string, chunks []corpus.Chunk) error
	// Query returns up to topN chunks ordered by ascending cosine distance,
	// ties broken by insertion order.
	Query(ctx context.Context, collection string, vector []float32, topN int) ([]corpus.Hit, error)
	Count(ctx context.Context, collection string) (int, error)
	Drop(ctx context.Context, collection string) error
	Close() error
}

// validateChunks checks that every chunk has text and that all embeddings share one dimension.
// It returns that dimension, or 0 for an empty slice.
func validateChunks(chunks []corpus.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	dim := len(chunks[0].Embedding)
	if dim == 0 {
		return 0, fmt.Errorf("%w: chunk 0 has no embedding", ErrDimensionMismatch)
	}
	for i := range chunks {
		if chunks[i].Text == "" {
			return 0, fmt.Errorf("chunk %d of %q has empty text", chunks[i].ID, chunks[i].DocumentName)
		}
		if len(chunks[i].Embedding) != dim {
			return 0, fmt.Errorf("%w: chunk %d has %d values, expected %d", ErrDimensionMismatch, i, len(chunks[i].Embedding), dim)
		}
	}
	return dim, nil
}
