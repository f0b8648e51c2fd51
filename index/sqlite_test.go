package index

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/database"
	"github.com/fabfab/policy-rag/ragerr"
)

func newTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), t.TempDir())
	require.NoError(t, err)
	idx := NewSQLiteIndex(db, nil)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func chunk(doc string, id int, text string, vec ...float32) corpus.Chunk {
	return corpus.Chunk{ID: id, Text: text, Embedding: vec, DocumentName: doc, EffectiveDate: "05/01/2023"}
}

func TestSQLiteQueryOrdersByCosineDistance(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{
		chunk("HRP-101", 0, "far", 0, 1),
		chunk("HRP-101", 1, "near", 1, 0),
		chunk("HRP-102", 0, "middle", 1, 1),
	}))

	hits, err := idx.Query(ctx, "policies", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Chunk.Text)
	assert.Equal(t, "middle", hits[1].Chunk.Text)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, "05/01/2023", hits[0].Chunk.EffectiveDate)
	assert.Equal(t, 1, hits[0].Chunk.ID)
}

func TestSQLiteQueryBreaksTiesByInsertionOrder(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{
		chunk("A", 0, "first", 1, 0),
		chunk("B", 0, "second", 1, 0),
		chunk("C", 0, "third", 1, 0),
	}))

	hits, err := idx.Query(ctx, "policies", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{hits[0].Chunk.Text, hits[1].Chunk.Text, hits[2].Chunk.Text})
}

func TestSQLiteRebuildIsIdempotent(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	chunks := []corpus.Chunk{
		chunk("A", 0, "alpha", 1, 0),
		chunk("A", 1, "beta", 0, 1),
	}

	require.NoError(t, idx.Rebuild(ctx, "policies", chunks))
	first, err := idx.Query(ctx, "policies", []float32{1, 1}, 5)
	require.NoError(t, err)

	require.NoError(t, idx.Rebuild(ctx, "policies", chunks))
	second, err := idx.Query(ctx, "policies", []float32{1, 1}, 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	n, err := idx.Count(ctx, "policies")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteRebuildReplacesContents(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{chunk("Old", 0, "old", 1, 0)}))
	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{chunk("New", 0, "new", 1, 0), chunk("New", 1, "newer", 0, 1)}))

	hits, err := idx.Query(ctx, "policies", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "New", h.Chunk.DocumentName)
	}
}

func TestSQLiteFailedRebuildKeepsPreviousVersion(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{chunk("A", 0, "kept", 1, 0)}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := idx.Rebuild(cancelled, "policies", []corpus.Chunk{chunk("B", 0, "lost", 1, 0)})
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindIndex))

	hits, err := idx.Query(ctx, "policies", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "kept", hits[0].Chunk.Text)
}

func TestSQLiteLatePurgeKeepsActiveVersion(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{
		chunk("A", 0, "a0", 1, 0),
		chunk("A", 1, "a1", 0, 1),
		chunk("B", 0, "b0", 1, 1),
	}))

	// Rows left behind by an overlapping rebuild from another process that never got to
	// purge, then that process's purge arriving after the newer version went live.
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO chunks (collection, version, seq, document_name, chunk_number, effective_date, content, embedding)
		VALUES ('policies', 'older-run', 0, 'A', 0, '', 'stale', ?)`, encodeVector([]float32{1, 0}))
	require.NoError(t, err)
	require.NoError(t, idx.purgeInactive(ctx, "policies"))

	n, err := idx.Count(ctx, "policies")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var total int
	require.NoError(t, idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = 'policies'").Scan(&total))
	assert.Equal(t, 3, total)
}

func TestSQLiteRebuildRejectsMixedDimensions(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.Rebuild(context.Background(), "policies", []corpus.Chunk{
		chunk("A", 0, "two", 1, 0),
		chunk("A", 1, "three", 1, 0, 0),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ragerr.ErrIndex)
}

func TestSQLiteQueryDimensionMismatchIsIndexError(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{chunk("A", 0, "x", 1, 0)}))

	_, err := idx.Query(ctx, "policies", []float32{1, 0, 0}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, ragerr.KindIndex, ragerr.KindOf(err))
}

func TestSQLiteQueryUnknownCollection(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Query(context.Background(), "missing", []float32{1}, 5)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestSQLiteDrop(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Rebuild(ctx, "policies", []corpus.Chunk{chunk("A", 0, "x", 1, 0)}))
	require.NoError(t, idx.Drop(ctx, "policies"))

	n, err := idx.Count(ctx, "policies")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteReadersNeverSeePartialRebuild(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	build := func(tag string, n int) []corpus.Chunk {
		out := make([]corpus.Chunk, n)
		for i := range out {
			out[i] = chunk(tag, i, fmt.Sprintf("%s-%d", tag, i), 1, float32(i))
		}
		return out
	}
	require.NoError(t, idx.Rebuild(ctx, "policies", build("A", 30)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_ = idx.Rebuild(ctx, "policies", build("B", 30))
			_ = idx.Rebuild(ctx, "policies", build("A", 30))
		}
	}()

	for i := 0; i < 20; i++ {
		hits, err := idx.Query(ctx, "policies", []float32{1, 0}, 100)
		require.NoError(t, err)
		require.Len(t, hits, 30)
		tag := hits[0].Chunk.DocumentName
		for _, h := range hits {
			assert.Equal(t, tag, h.Chunk.DocumentName)
		}
	}
	wg.Wait()
}

func TestVectorBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	assert.Equal(t, vec, decodeVector(encodeVector(vec)))
}
