package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/policy-rag/config"
	"github.com/fabfab/policy-rag/ragerr"
)

type recordingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	dim     int
	short   bool
	err     error
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	n := len(texts)
	if r.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		vec := make([]float32, r.dim)
		for j := range vec {
			vec[j] = float32(len(texts[i]) + j + 1)
		}
		out[i] = vec
	}
	return out, nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestGeneratorBatchesAndNormalises(t *testing.T) {
	stub := &recordingEmbedder{dim: 4}
	gen := NewGenerator(stub, GeneratorOptions{BatchSize: 2}, nil)

	vectors, err := gen.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, stub.batches)
	for _, v := range vectors {
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	}
	assert.Equal(t, 4, gen.Dimension())
}

func TestGeneratorRejectsDimensionChange(t *testing.T) {
	gen := NewGenerator(&recordingEmbedder{dim: 3}, GeneratorOptions{Dimension: 4}, nil)

	_, err := gen.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindEmbedding))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestGeneratorCountMismatchIsEmbeddingError(t *testing.T) {
	gen := NewGenerator(&recordingEmbedder{dim: 3, short: true}, GeneratorOptions{}, nil)

	_, err := gen.Embed(context.Background(), []string{"x", "y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ragerr.ErrEmbedding)
}

func TestGeneratorWrapsProviderFailure(t *testing.T) {
	gen := NewGenerator(&recordingEmbedder{err: errors.New("unavailable")}, GeneratorOptions{}, nil)

	_, err := gen.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, ragerr.KindEmbedding, ragerr.KindOf(err))
}

func TestGeneratorRejectsZeroVector(t *testing.T) {
	_, err := normalize([]float32{0, 0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestGeneratorHonoursCancelledContextWhenThrottled(t *testing.T) {
	gen := NewGenerator(&recordingEmbedder{dim: 2}, GeneratorOptions{BatchSize: 1, RequestsPerSecond: 0.001}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := gen.Embed(ctx, []string{"first"})
	require.NoError(t, err)

	cancel()
	_, err = gen.Embed(ctx, []string{"second"})
	require.Error(t, err)
	assert.True(t, ragerr.IsKind(err, ragerr.KindEmbedding))
}

func TestOllamaEmbedderPostsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"one", "two"}, req.Input)
		assert.True(t, req.Truncate)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0}, {0, 1}}})
	}))
	defer srv.Close()

	emb, err := New(Options{Provider: config.ProviderOllama, BaseURL: srv.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	vectors, err := emb.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestOllamaEmbedderRejectsShortResponses(t *testing.T) {
	cases := map[string][][]float32{
		"missing vector": {{1, 0}},
		"empty vector":   {{1, 0}, {}},
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: reply})
			}))
			defer srv.Close()

			emb, err := New(Options{Provider: config.ProviderOllama, BaseURL: srv.URL, Model: "m"})
			require.NoError(t, err)
			_, err = emb.Embed(context.Background(), []string{"one", "two"})
			require.Error(t, err)
		})
	}
}

func TestOllamaEmbedderSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	emb, err := New(Options{Provider: config.ProviderOllama, BaseURL: srv.URL, Model: "missing"})
	require.NoError(t, err)
	_, err = emb.Embed(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIEmbedderReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "float", body["encoding_format"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[` +
			`{"object":"embedding","index":1,"embedding":[0,1]},` +
			`{"object":"embedding","index":0,"embedding":[1,0]}],"model":"bge"}`))
	}))
	defer srv.Close()

	emb, err := New(Options{Provider: config.ProviderOpenAI, BaseURL: srv.URL, Model: "bge"})
	require.NoError(t, err)
	vectors, err := emb.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestNewEmbedderRequiresOpenAIKeyOrBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.Provider = config.ProviderOpenAI
	_, err := NewEmbedder(cfg)
	require.Error(t, err)

	cfg.OpenAIBaseURL = "http://tei.internal/v1"
	emb, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &openAIEmbedder{}, emb)

	cfg.Embeddings.Provider = "cohere"
	_, err = NewEmbedder(cfg)
	require.Error(t, err)
}
