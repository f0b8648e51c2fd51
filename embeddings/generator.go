package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

const defaultBatchSize = 32

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrZeroVector        = errors.New("embedding has zero magnitude")
)

type GeneratorOptions struct {
	// BatchSize caps the number of texts per provider call.
	BatchSize int
	// Dimension is the expected vector length; 0 adopts the first one observed.
	Dimension int
	// RequestsPerSecond throttles provider calls; 0 disables the limiter.
	RequestsPerSecond float64
}

// Generator is the single embedding entry point for both corpus chunks and live queries.
// It batches, throttles, validates dimensions and L2-normalises every vector.
// Safe for concurrent use.
type Generator struct {
	embedder  Embedder
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu        sync.Mutex
	dimension int
}

func NewGenerator(embedder Embedder, opts GeneratorOptions, logger *zap.Logger) *Generator {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Generator{
		embedder:  embedder,
		batchSize: batch,
		limiter:   limiter,
		logger:    logging.OrNop(logger),
		dimension: opts.Dimension,
	}
}

// Dimension returns the configured or learned vector length, 0 if none yet.
func (g *Generator) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dimension
}

// Embed returns one unit-length vector per text. Any failure is an embedding error.
func (g *Generator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.embedder == nil {
		return nil, ragerr.New(ragerr.KindEmbedding, "embed", errors.New("embedder not configured"))
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		batch := texts[start:end]

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, ragerr.New(ragerr.KindEmbedding, "wait for rate limiter", err)
			}
		}

		vectors, err := g.embedder.Embed(ctx, batch)
		if err != nil {
			return nil, ragerr.New(ragerr.KindEmbedding, fmt.Sprintf("embed batch %d-%d", start, end), err)
		}
		if len(vectors) != len(batch) {
			return nil, ragerr.New(ragerr.KindEmbedding, "embed batch",
				fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", len(batch), len(vectors)))
		}

		for i, vec := range vectors {
			if err := g.checkDimension(len(vec)); err != nil {
				return nil, ragerr.New(ragerr.KindEmbedding, fmt.Sprintf("embed text %d", start+i), err)
			}
			normalized, err := normalize(vec)
			if err != nil {
				return nil, ragerr.New(ragerr.KindEmbedding, fmt.Sprintf("embed text %d", start+i), err)
			}
			out = append(out, normalized)
		}

		g.logger.Debug("embedded batch", zap.Int("start", start), zap.Int("size", len(batch)))
	}

	return out, nil
}

// EmbedQuery embeds a single text.
func (g *Generator) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *Generator) checkDimension(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dimension == 0 {
		g.dimension = n
		return nil
	}
	if g.dimension != n {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, g.dimension, n)
	}
	return nil
}

func normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrZeroVector
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

var _ Embedder = (*Generator)(nil)
