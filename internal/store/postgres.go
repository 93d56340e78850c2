package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists artifacts as rows keyed by
// (run_id, step, kind, version). The unique constraint makes the append-only
// contract strict: a duplicate insert fails instead of overwriting.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureSchema() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS qa_artifacts (
    id SERIAL PRIMARY KEY,
    run_id TEXT NOT NULL,
    step TEXT NOT NULL,
    kind TEXT NOT NULL,
    version INTEGER NOT NULL,
    media_type TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL DEFAULT '',
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    UNIQUE(run_id, step, kind, version)
);
CREATE INDEX IF NOT EXISTS idx_qa_artifacts_run_id ON qa_artifacts(run_id);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Put(ctx context.Context, a Artifact) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if err := validate(a); err != nil {
		return err
	}
	if err := s.ensureSchema(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO qa_artifacts (run_id, step, kind, version, media_type, checksum, content, size, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, a.RunID, a.Step, a.Kind, a.Version, a.MediaType, a.Checksum, a.Content, int64(len(a.Content)), a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("put %s: %w", objectKey(a.RunID, a.Step, a.Kind, a.Version), ErrDuplicateVersion)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, runID, step, kind string) (Artifact, error) {
	return s.get(ctx, `
SELECT run_id, step, kind, version, media_type, checksum, content, created_at
FROM qa_artifacts WHERE run_id=$1 AND step=$2 AND kind=$3
ORDER BY version DESC LIMIT 1
`, strings.TrimSpace(runID), strings.TrimSpace(step), strings.TrimSpace(kind))
}

func (s *PostgresStore) GetVersion(ctx context.Context, runID, step, kind string, version int) (Artifact, error) {
	return s.get(ctx, `
SELECT run_id, step, kind, version, media_type, checksum, content, created_at
FROM qa_artifacts WHERE run_id=$1 AND step=$2 AND kind=$3 AND version=$4
`, strings.TrimSpace(runID), strings.TrimSpace(step), strings.TrimSpace(kind), version)
}

func (s *PostgresStore) get(ctx context.Context, query string, args ...any) (Artifact, error) {
	if s == nil {
		return Artifact{}, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(); err != nil {
		return Artifact{}, err
	}
	var a Artifact
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&a.RunID, &a.Step, &a.Kind, &a.Version, &a.MediaType, &a.Checksum, &a.Content, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	return a, err
}

func (s *PostgresStore) List(ctx context.Context, runID string) ([]Descriptor, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, step, kind, version, media_type, checksum, size, created_at
FROM qa_artifacts WHERE run_id=$1 ORDER BY step, kind, version
`, strings.TrimSpace(runID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Descriptor
	for rows.Next() {
		var d Descriptor
		if err := rows.Scan(&d.RunID, &d.Step, &d.Kind, &d.Version, &d.MediaType, &d.Checksum, &d.Size, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
