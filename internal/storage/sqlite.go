package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bdougie/medai/internal/models"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    type       TEXT NOT NULL,
    input      TEXT NOT NULL,
    result     TEXT NOT NULL,
    created_at TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'ok',
    error_kind TEXT NOT NULL DEFAULT ''
);`

// SQLiteStore keeps history in an embedded SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one writer at a time keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e models.HistoryEntry) error {
	e = withID(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (id, type, input, result, created_at, status, error_kind)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Input, e.Result, e.Timestamp.UTC().Format(time.RFC3339Nano), statusOrOK(e.Status), e.ErrorKind)
	if err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, input, result, created_at, status, error_kind
        FROM history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e       models.HistoryEntry
			kind    string
			status  string
			created string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Input, &e.Result, &created, &status, &e.ErrorKind); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q for entry %s: %w", created, e.ID, err)
		}
		e.Type = models.Kind(kind)
		e.Status = models.Status(status)
		e.Timestamp = ts
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func statusOrOK(s models.Status) string {
	if s == "" {
		return string(models.StatusOK)
	}
	return string(s)
}
