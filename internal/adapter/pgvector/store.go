// Package pgvector implements the vector index on Postgres with the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"incredoc/internal/backend"
)

const (
	createExtensionQuery = `CREATE EXTENSION IF NOT EXISTS vector`
	createTableQuery     = `CREATE TABLE IF NOT EXISTS document_chunks (
	vector_id   TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	source      TEXT NOT NULL,
	text        TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	embedding   vector NOT NULL
)`
	createSourceIndexQuery = `CREATE INDEX IF NOT EXISTS idx_document_chunks_source ON document_chunks (source)`

	upsertQuery = `INSERT INTO document_chunks (vector_id, document_id, source, text, chunk_index, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (vector_id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	source = EXCLUDED.source,
	text = EXCLUDED.text,
	chunk_index = EXCLUDED.chunk_index,
	embedding = EXCLUDED.embedding`

	queryAll = `SELECT vector_id, document_id, source, text, chunk_index, 1 - (embedding <=> $1) AS score
FROM document_chunks ORDER BY embedding <=> $1 LIMIT $2`
	queryBySource = `SELECT vector_id, document_id, source, text, chunk_index, 1 - (embedding <=> $1) AS score
FROM document_chunks WHERE source = $3 ORDER BY embedding <=> $1 LIMIT $2`

	countQuery = `SELECT COUNT(*) FROM document_chunks`
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the extension and chunk table. The embedding column is
// left without a fixed dimension so either embedder can be used.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{createExtensionQuery, createTableQuery, createSourceIndexQuery} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// Upsert writes every record in one transaction.
func (s *Store) Upsert(ctx context.Context, records []backend.VectorRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx, r.VectorID, r.DocumentID, r.Source, r.Text, r.ChunkIndex, pgvector.NewVector(r.Vector)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.VectorID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Query(ctx context.Context, vec []float32, k int, filter backend.Filter) ([]backend.Match, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.Source == "" {
		rows, err = s.db.QueryContext(ctx, queryAll, pgvector.NewVector(vec), k)
	} else {
		rows, err = s.db.QueryContext(ctx, queryBySource, pgvector.NewVector(vec), k, filter.Source)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []backend.Match
	for rows.Next() {
		var m backend.Match
		var score float64
		if err := rows.Scan(&m.VectorID, &m.DocumentID, &m.Source, &m.Text, &m.ChunkIndex, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, countQuery).Scan(&count)
	return count, err
}
