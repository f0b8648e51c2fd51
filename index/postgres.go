package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/database"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

// PostgresIndex keeps collections in pgvector tables and ranks with the <=> cosine operator.
type PostgresIndex struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresIndex ensures the schema exists and returns the index.
func NewPostgresIndex(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*PostgresIndex, error) {
	if err := database.EnsureRAGSchema(ctx, pool); err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "ensure schema", err)
	}
	return &PostgresIndex{pool: pool, logger: logging.OrNop(logger)}, nil
}

func (p *PostgresIndex) Rebuild(ctx context.Context, collection string, chunks []corpus.Chunk) (err error) {
	if collection == "" {
		return ragerr.New(ragerr.KindIndex, "rebuild", errors.New("collection name is empty"))
	}
	dim, err := validateChunks(chunks)
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "rebuild", err)
	}

	version := uuid.New()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "begin rebuild", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				p.logger.Warn("rollback rebuild", zap.Error(rbErr))
			}
		}
	}()

	// Serialise concurrent rebuilds of the same collection.
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", collection); err != nil {
		return ragerr.New(ragerr.KindIndex, "lock collection", err)
	}

	batch := &pgx.Batch{}
	for seq := range chunks {
		c := &chunks[seq]
		batch.Queue(`
			INSERT INTO rag_chunks (id, collection, version, seq, document_name, chunk_number, effective_date, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), collection, version, seq, c.DocumentName, c.ID, c.EffectiveDate, c.Text, pgvector.NewVector(c.Embedding))
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return ragerr.New(ragerr.KindIndex, "insert chunks", err)
		}
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO rag_collections (name, active_version, dimension, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET
			active_version = EXCLUDED.active_version,
			dimension = EXCLUDED.dimension,
			updated_at = NOW()`, collection, version, dim); err != nil {
		return ragerr.New(ragerr.KindIndex, "activate version", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return ragerr.New(ragerr.KindIndex, "commit rebuild", err)
	}

	// Re-read the pointer: a concurrent rebuild may already have activated a newer version.
	if _, purgeErr := p.pool.Exec(ctx, `
		DELETE FROM rag_chunks
		WHERE collection = $1
			AND version <> (SELECT active_version FROM rag_collections WHERE name = $1)`, collection); purgeErr != nil {
		p.logger.Warn("purge superseded versions", zap.String("collection", collection), zap.Error(purgeErr))
	}

	p.logger.Info("rebuilt collection",
		zap.String("collection", collection),
		zap.String("version", version.String()),
		zap.Int("chunks", len(chunks)))
	return nil
}

func (p *PostgresIndex) Query(ctx context.Context, collection string, vector []float32, topN int) ([]corpus.Hit, error) {
	if topN <= 0 {
		return nil, ragerr.New(ragerr.KindIndex, "query", fmt.Errorf("topN must be positive, got %d", topN))
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "begin query", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		version uuid.UUID
		dim     int
	)
	err = tx.QueryRow(ctx, "SELECT active_version, dimension FROM rag_collections WHERE name = $1", collection).Scan(&version, &dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ragerr.New(ragerr.KindIndex, "query", fmt.Errorf("%w: %s", ErrCollectionNotFound, collection))
	}
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "load collection", err)
	}
	if dim > 0 && len(vector) != dim {
		return nil, ragerr.New(ragerr.KindIndex, "query",
			fmt.Errorf("%w: collection %s has dimension %d, query has %d", ErrDimensionMismatch, collection, dim, len(vector)))
	}
	if dim == 0 {
		return nil, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT document_name, chunk_number, effective_date, content,
		       (embedding <=> $1::vector) AS distance
		FROM rag_chunks
		WHERE collection = $2 AND version = $3
		ORDER BY distance, seq
		LIMIT $4`, pgvector.NewVector(vector), collection, version, topN)
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "query similar chunks", err)
	}
	defer rows.Close()

	hits := make([]corpus.Hit, 0, topN)
	for rows.Next() {
		var hit corpus.Hit
		if err := rows.Scan(&hit.Chunk.DocumentName, &hit.Chunk.ID, &hit.Chunk.EffectiveDate, &hit.Chunk.Text, &hit.Distance); err != nil {
			return nil, ragerr.New(ragerr.KindIndex, "scan similar chunk", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "iterate similar chunks", err)
	}

	return hits, nil
}

func (p *PostgresIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM rag_chunks c
		JOIN rag_collections k ON k.name = c.collection AND k.active_version = c.version
		WHERE k.name = $1`, collection).Scan(&n)
	if err != nil {
		return 0, ragerr.New(ragerr.KindIndex, "count chunks", err)
	}
	return n, nil
}

func (p *PostgresIndex) Drop(ctx context.Context, collection string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM rag_collections WHERE name = $1", collection); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM rag_chunks WHERE collection = $1", collection); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "drop", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *PostgresIndex) Close() error {
	return nil
}

var _ Index = (*PostgresIndex)(nil)
