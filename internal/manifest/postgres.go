package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// advisoryLockKey identifies the manifest lock among other advisory locks.
const advisoryLockKey int64 = 0x1dc0c

const (
	selectManifestQuery = `SELECT doc FROM manifest WHERE id = 1`
	upsertManifestQuery = `INSERT INTO manifest (id, doc, updated_at) VALUES (1, $1, NOW()) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`
	advisoryLockQuery   = `SELECT pg_advisory_xact_lock($1)`
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresBackend stores the manifest as a single JSONB row. WithLock holds a
// transaction-scoped advisory lock so separate processes serialize too.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Load(ctx context.Context) (Manifest, error) {
	return load(ctx, b.db)
}

func (b *PostgresBackend) Save(ctx context.Context, m Manifest) error {
	return save(ctx, b.db, m)
}

// WithLock runs fn inside one transaction holding the manifest lock. The
// transaction commits only when fn returns nil.
func (b *PostgresBackend) WithLock(ctx context.Context, fn func(ctx context.Context, tx Backend) error) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin manifest tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.WarnContext(ctx, "manifest rollback failed", "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, advisoryLockQuery, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire manifest lock: %w", err)
	}
	if err = fn(ctx, &txBackend{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit manifest tx: %w", err)
	}
	return nil
}

type txBackend struct {
	tx *sql.Tx
}

func (t *txBackend) Load(ctx context.Context) (Manifest, error) { return load(ctx, t.tx) }

func (t *txBackend) Save(ctx context.Context, m Manifest) error { return save(ctx, t.tx, m) }

func load(ctx context.Context, q querier) (Manifest, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, selectManifestQuery).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	m := Manifest{}
	if err := json.Unmarshal(raw, &m); err != nil {
		slog.WarnContext(ctx, "manifest row is corrupt, treating as empty", "error", err)
		return Manifest{}, ErrNoManifest
	}
	return m, nil
}

func save(ctx context.Context, q querier, m Manifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := q.ExecContext(ctx, upsertManifestQuery, raw); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
