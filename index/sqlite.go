package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabfab/policy-rag/corpus"
	"github.com/fabfab/policy-rag/logging"
	"github.com/fabfab/policy-rag/ragerr"
)

// SQLiteIndex is the embedded, file-backed index. Similarity is computed in process.
type SQLiteIndex struct {
	db     *sql.DB
	logger *zap.Logger

	// serialises writers; readers rely on SQLite snapshot isolation.
	writeMu sync.Mutex
}

func NewSQLiteIndex(db *sql.DB, logger *zap.Logger) *SQLiteIndex {
	return &SQLiteIndex{db: db, logger: logging.OrNop(logger)}
}

func (s *SQLiteIndex) Rebuild(ctx context.Context, collection string, chunks []corpus.Chunk) (err error) {
	if collection == "" {
		return ragerr.New(ragerr.KindIndex, "rebuild", errors.New("collection name is empty"))
	}
	dim, err := validateChunks(chunks)
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "rebuild", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	version := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "begin rebuild", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback rebuild", zap.Error(rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, version, seq, document_name, chunk_number, effective_date, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "prepare chunk insert", err)
	}
	defer stmt.Close()

	for seq := range chunks {
		c := &chunks[seq]
		if _, err = stmt.ExecContext(ctx, collection, version, seq, c.DocumentName, c.ID, c.EffectiveDate, c.Text, encodeVector(c.Embedding)); err != nil {
			return ragerr.New(ragerr.KindIndex, fmt.Sprintf("insert chunk %d", seq), err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO collections (name, active_version, dimension, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			active_version = excluded.active_version,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at`,
		collection, version, dim, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return ragerr.New(ragerr.KindIndex, "activate version", err)
	}

	if err = tx.Commit(); err != nil {
		return ragerr.New(ragerr.KindIndex, "commit rebuild", err)
	}

	// Superseded versions are invisible once the pointer moved; failing to purge them only wastes space.
	if purgeErr := s.purgeInactive(ctx, collection); purgeErr != nil {
		s.logger.Warn("purge superseded versions", zap.String("collection", collection), zap.Error(purgeErr))
	}

	s.logger.Info("rebuilt collection",
		zap.String("collection", collection),
		zap.String("version", version),
		zap.Int("chunks", len(chunks)))
	return nil
}

// purgeInactive deletes every version other than the one currently active. Another process
// may have activated a newer version since this one committed, so the pointer is re-read.
func (s *SQLiteIndex) purgeInactive(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chunks
		WHERE collection = ?
			AND version <> (SELECT active_version FROM collections WHERE name = ?)`,
		collection, collection)
	return err
}

func (s *SQLiteIndex) Query(ctx context.Context, collection string, vector []float32, topN int) ([]corpus.Hit, error) {
	if topN <= 0 {
		return nil, ragerr.New(ragerr.KindIndex, "query", fmt.Errorf("topN must be positive, got %d", topN))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "begin query", err)
	}
	defer tx.Rollback()

	var (
		version string
		dim     int
	)
	err = tx.QueryRowContext(ctx, "SELECT active_version, dimension FROM collections WHERE name = ?", collection).Scan(&version, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ragerr.New(ragerr.KindIndex, "query", fmt.Errorf("%w: %s", ErrCollectionNotFound, collection))
	}
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "load collection", err)
	}
	if dim > 0 && len(vector) != dim {
		return nil, ragerr.New(ragerr.KindIndex, "query",
			fmt.Errorf("%w: collection %s has dimension %d, query has %d", ErrDimensionMismatch, collection, dim, len(vector)))
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT seq, document_name, chunk_number, effective_date, content, embedding
		FROM chunks
		WHERE collection = ? AND version = ?
		ORDER BY seq`, collection, version)
	if err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "query chunks", err)
	}
	defer rows.Close()

	type scored struct {
		hit corpus.Hit
		seq int
	}
	var candidates []scored
	for rows.Next() {
		var (
			seq  int
			c    corpus.Chunk
			blob []byte
		)
		if err := rows.Scan(&seq, &c.DocumentName, &c.ID, &c.EffectiveDate, &c.Text, &blob); err != nil {
			return nil, ragerr.New(ragerr.KindIndex, "scan chunk", err)
		}
		c.Embedding = decodeVector(blob)
		candidates = append(candidates, scored{
			hit: corpus.Hit{Chunk: c, Distance: cosineDistance(vector, c.Embedding)},
			seq: seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.New(ragerr.KindIndex, "iterate chunks", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].hit.Distance != candidates[j].hit.Distance {
			return candidates[i].hit.Distance < candidates[j].hit.Distance
		}
		return candidates[i].seq < candidates[j].seq
	})

	n := min(topN, len(candidates))
	hits := make([]corpus.Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = candidates[i].hit
	}
	return hits, nil
}

func (s *SQLiteIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chunks c
		JOIN collections k ON k.name = c.collection AND k.active_version = c.version
		WHERE k.name = ?`, collection).Scan(&n)
	if err != nil {
		return 0, ragerr.New(ragerr.KindIndex, "count chunks", err)
	}
	return n, nil
}

func (s *SQLiteIndex) Drop(ctx context.Context, collection string) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.New(ragerr.KindIndex, "begin drop", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", collection); err != nil {
		return ragerr.New(ragerr.KindIndex, "drop collection", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ?", collection); err != nil {
		return ragerr.New(ragerr.KindIndex, "drop chunks", err)
	}
	if err = tx.Commit(); err != nil {
		return ragerr.New(ragerr.KindIndex, "commit drop", err)
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// cosineDistance is 1 - cos(a, b); a zero vector is maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

var _ Index = (*SQLiteIndex)(nil)
