package index

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/policy-rag/config"
	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/database"
)

func TestPostgresRebuildAndQuery(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database integration checks")
	}

	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()

	idx, err := NewPostgresIndex(ctx, pool, nil)
	require.NoError(t, err)

	collection := "index_test_" + t.Name()
	t.Cleanup(func() { _ = idx.Drop(ctx, collection) })

	chunks := []corpus.Chunk{
		{ID: 0, Text: "near", Embedding: []float32{1, 0}, DocumentName: "A"},
		{ID: 1, Text: "far", Embedding: []float32{0, 1}, DocumentName: "A"},
	}
	require.NoError(t, idx.Rebuild(ctx, collection, chunks))
	require.NoError(t, idx.Rebuild(ctx, collection, chunks))

	n, err := idx.Count(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := idx.Query(ctx, collection, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "near", hits[0].Chunk.Text)

	_, err = idx.Query(ctx, collection, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
