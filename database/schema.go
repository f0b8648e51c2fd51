package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureRAGSchema creates the versioned collection tables in Postgres.
// The embedding column is left untyped so collections of different dimensions can coexist;
// the dimension is recorded per collection instead.
func EnsureRAGSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_collections (
			name TEXT PRIMARY KEY,
			active_version UUID NOT NULL,
			dimension INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id UUID PRIMARY KEY,
			collection TEXT NOT NULL,
			version UUID NOT NULL,
			seq INT NOT NULL,
			document_name TEXT NOT NULL,
			chunk_number INT NOT NULL,
			effective_date TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(collection, version, seq)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_version ON rag_chunks(collection, version)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// EnsureSQLiteSchema creates the same layout for the embedded index.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			active_version TEXT NOT NULL,
			dimension INTEGER NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			collection TEXT NOT NULL,
			version TEXT NOT NULL,
			seq INTEGER NOT NULL,
			document_name TEXT NOT NULL,
			chunk_number INTEGER NOT NULL,
			effective_date TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			PRIMARY KEY (collection, version, seq)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute sqlite schema statement: %w", err)
		}
	}
	return nil
}
