package storage

import (
	"context"
	"fmt"

	"github.com/bdougie/medai/internal/embeddings"
	"github.com/bdougie/medai/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps history in PostgreSQL. When an embedder is configured
// each result is embedded with pgvector so past answers can be searched.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder *embeddings.Service
}

// NewPostgresStore connects to connString and makes sure the schema exists.
// embedder may be nil, which disables Search.
func NewPostgresStore(ctx context.Context, connString string, embedder *embeddings.Service, dim int) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("postgres history backend needs a connection string")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if embedder == nil {
		dim = 0
	}
	if err := InitSchema(ctx, pool, dim); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, embedder: embedder}, nil
}

// InitSchema creates the history table. A positive dim also enables the
// vector extension and adds the embedding column and index.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	_, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS history (
            seq        BIGSERIAL PRIMARY KEY,
            id         TEXT NOT NULL UNIQUE,
            type       TEXT NOT NULL,
            input      TEXT NOT NULL,
            result     TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            status     TEXT NOT NULL DEFAULT 'ok',
            error_kind TEXT NOT NULL DEFAULT ''
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	if dim <= 0 {
		return nil
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err = pool.Exec(ctx, fmt.Sprintf(`
        ALTER TABLE history ADD COLUMN IF NOT EXISTS embedding vector(%d);
        CREATE INDEX IF NOT EXISTS idx_history_embedding ON history USING hnsw (embedding vector_cosine_ops);
    `, dim))
	if err != nil {
		return fmt.Errorf("failed to add embedding column: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e models.HistoryEntry) error {
	e = withID(e)
	if s.embedder == nil || e.Failed() {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO history (id, type, input, result, created_at, status, error_kind)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, string(e.Type), e.Input, e.Result, e.Timestamp, statusOrOK(e.Status), e.ErrorKind)
		if err != nil {
			return fmt.Errorf("failed to store history entry: %w", err)
		}
		return nil
	}

	embedding, err := s.embedder.Embed(ctx, e.Result)
	if err != nil {
		return fmt.Errorf("failed to embed history entry: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO history (id, type, input, result, created_at, status, error_kind, embedding)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Type), e.Input, e.Result, e.Timestamp, statusOrOK(e.Status), e.ErrorKind, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, input, result, created_at, status, error_kind
        FROM history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return collectEntries(rows)
}

// Search returns up to limit successful entries whose results are closest
// to query
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]models.HistoryEntry, error) {
	if s.embedder == nil {
		return nil, ErrSearchUnavailable
	}
	if limit <= 0 {
		limit = 10
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, input, result, created_at, status, error_kind
        FROM history
        WHERE embedding IS NOT NULL
        ORDER BY embedding <=> $1
        LIMIT $2`,
		pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]models.HistoryEntry, error) {
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e      models.HistoryEntry
			kind   string
			status string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Input, &e.Result, &e.Timestamp, &status, &e.ErrorKind); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Type = models.Kind(kind)
		e.Status = models.Status(status)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
