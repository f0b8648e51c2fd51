package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/ragerr"
)

type fixedScorer struct {
	scores []float64
	err    error
}

func (f fixedScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return f.scores, f.err
}

func hits(texts ...string) []corpus.Hit {
	out := make([]corpus.Hit, len(texts))
	for i, t := range texts {
		out[i] = corpus.Hit{Chunk: corpus.Chunk{ID: i, Text: t, DocumentName: "doc"}, Distance: float64(i)}
	}
	return out
}

func texts(hs []corpus.Hit) []string {
	out := make([]string, len(hs))
	for i := range hs {
		out[i] = hs[i].Chunk.Text
	}
	return out
}

func TestRerankOrdersByScoreAndTruncates(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.1, 0.9, 0.5, 0.7}}, 3)

	got, err := r.Rerank(context.Background(), "q", hits("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d", "c"}, texts(got))
}

func TestRerankTiesKeepRetrievalOrder(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.5, 0.5, 0.9, 0.5}}, 10)

	got, err := r.Rerank(context.Background(), "q", hits("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b", "d"}, texts(got))
}

func TestRerankResultIsSubsetWithinLimit(t *testing.T) {
	in := hits("a", "b", "c", "d", "e", "f")
	for m := 1; m <= 8; m++ {
		t.Run(fmt.Sprintf("top_%d", m), func(t *testing.T) {
			r := New(LexicalScorer{}, m)
			got, err := r.Rerank(context.Background(), "c e", in)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), m)
			assert.Subset(t, texts(in), texts(got))

			seen := map[string]bool{}
			for _, h := range got {
				assert.False(t, seen[h.Chunk.Text], "duplicate %s", h.Chunk.Text)
				seen[h.Chunk.Text] = true
			}
		})
	}
}

func TestRerankWithoutScorerTruncatesRetrievalOrder(t *testing.T) {
	r := New(nil, 2)
	got, err := r.Rerank(context.Background(), "q", hits("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(got))
}

func TestRerankScorerFailureIsRerankError(t *testing.T) {
	r := New(fixedScorer{err: errors.New("model offline")}, 2)
	_, err := r.Rerank(context.Background(), "q", hits("a"))
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindRerank))
}

func TestRerankScoreCountMismatch(t *testing.T) {
	r := New(fixedScorer{scores: []float64{1}}, 2)
	_, err := r.Rerank(context.Background(), "q", hits("a", "b"))
	require.Error(t, err)
}

func TestRerankEmptyInput(t *testing.T) {
	got, err := New(LexicalScorer{}, 3).Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexicalScorerPrefersOverlap(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "Informed consent waiver",
		[]string{"continuing review timelines", "a waiver of informed consent may be granted"})
	require.NoError(t, err)
	assert.Greater(t, scores[1], scores[0])
	assert.Zero(t, scores[0])
}

func TestHTTPScorerMapsIndices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is exempt", req.Query)
		require.Len(t, req.Texts, 2)
		_ = json.NewEncoder(w).Encode([]rerankResult{{Index: 1, Score: 0.8}, {Index: 0, Score: 0.2}})
	}))
	defer srv.Close()

	scores, err := NewHTTPScorer(srv.URL, "").Score(context.Background(), "what is exempt", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.8}, scores)
}

func TestHTTPScorerRejectsIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rerankResult{{Index: 0, Score: 0.2}})
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, "").Score(context.Background(), "q", []string{"x", "y"})
	require.Error(t, err)
}
