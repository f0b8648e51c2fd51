package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/database"
	"github.com/fabfab/policy-rag/index"
	"github.com/fabfab/policy-rag/ragerr"
)

type stubEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{1, float32(len(text))}
	}
	return out, nil
}

type stubGraph struct {
	docs []corpus.Document
	err  error
}

func (g *stubGraph) SyncCollection(ctx context.Context, collection string, docs []corpus.Document) error {
	g.docs = docs
	return g.err
}

func newTestIndex(t *testing.T) index.Index {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), t.TempDir())
	require.NoError(t, err)
	idx := index.NewSQLiteIndex(db, nil)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

var threeChunkDocs = map[string]string{
	"HRP-103.txt": "hrp-103 | 5/1/2023\nThe board meets monthly. Minutes are kept on file. Quorum is a majority.",
	"HRP-212.txt": "Continuing review occurs yearly. Revised: 2/3/2024 by staff. Records stay seven years.",
	"notes.md":    "ignored because only text files are ingested",
}

func TestIngestDirectoryBuildsCollection(t *testing.T) {
	idx := newTestIndex(t)
	graph := &stubGraph{}
	embedder := &stubEmbedder{}
	svc := NewService(embedder, idx, NewExtractor(nil, nil), graph,
		Options{ChunkSize: 6, ChunkOverlap: 0, Workers: 2, Collection: "policies"}, nil)

	report, err := svc.IngestDirectory(context.Background(), writeDocs(t, threeChunkDocs))
	require.NoError(t, err)

	assert.Equal(t, 6, report.Chunks)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Documents, 2)
	assert.Equal(t, "HRP-103", report.Documents[0].Name)
	assert.Equal(t, "05/01/2023", report.Documents[0].EffectiveDate)
	assert.Equal(t, "HRP-212", report.Documents[1].Name)
	assert.Equal(t, "02/03/2024", report.Documents[1].EffectiveDate)
	for _, doc := range report.Documents {
		require.Len(t, doc.Chunks, 3)
		for i, ch := range doc.Chunks {
			assert.Equal(t, i, ch.ID)
			assert.Equal(t, doc.Name, ch.DocumentName)
			assert.Len(t, ch.Embedding, 2)
		}
	}
	assert.Equal(t, 2, embedder.calls, "one embedding call per document")

	count, err := idx.Count(context.Background(), "policies")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Len(t, graph.docs, 2)

	hits, err := idx.Query(context.Background(), "policies", []float32{1, 0}, 20)
	require.NoError(t, err)
	assert.Len(t, hits, 6)
}

func TestIngestFilesIsolatesUnreadableFiles(t *testing.T) {
	idx := newTestIndex(t)
	dir := writeDocs(t, threeChunkDocs)
	svc := NewService(&stubEmbedder{}, idx, nil, &stubGraph{err: errors.New("neo4j down")},
		Options{ChunkSize: 6, Collection: "policies"}, nil)

	missing := filepath.Join(dir, "missing.txt")
	report, err := svc.IngestFiles(context.Background(), []string{filepath.Join(dir, "HRP-103.txt"), missing})
	require.NoError(t, err, "graph sync failures are not fatal")

	assert.Equal(t, 3, report.Chunks)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, missing, report.Failures[0].Path)
	assert.True(t, ragerr.IsKind(report.Failures[0].Err, ragerr.KindIngestion))
}

func TestIngestEmbeddingFailureKeepsPreviousCollection(t *testing.T) {
	idx := newTestIndex(t)
	dir := writeDocs(t, threeChunkDocs)
	opts := Options{ChunkSize: 6, Collection: "policies"}

	_, err := NewService(&stubEmbedder{}, idx, nil, nil, opts, nil).IngestDirectory(context.Background(), dir)
	require.NoError(t, err)

	_, err = NewService(&stubEmbedder{err: errors.New("connection refused")}, idx, nil, nil, opts, nil).
		IngestDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindEmbedding))

	count, err := idx.Count(context.Background(), "policies")
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestIngestWithoutChunksIsAnError(t *testing.T) {
	idx := newTestIndex(t)
	dir := writeDocs(t, map[string]string{"empty.txt": "  \n"})
	_, err := NewService(&stubEmbedder{}, idx, nil, nil, Options{Collection: "policies"}, nil).
		IngestDirectory(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindIngestion))

	count, err := idx.Count(context.Background(), "policies")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestMissingDirectory(t *testing.T) {
	_, err := NewService(&stubEmbedder{}, newTestIndex(t), nil, nil, Options{Collection: "policies"}, nil).
		IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, ragerr.IsKind(err, ragerr.KindIngestion))
}

func TestDocumentName(t *testing.T) {
	assert.Equal(t, "HRP-103", DocumentName("/data/documents/HRP-103.txt"))
	assert.Equal(t, "HRP Templates", DocumentName("HRP Templates.txt"))
	assert.Equal(t, "README", DocumentName("README"))
}
