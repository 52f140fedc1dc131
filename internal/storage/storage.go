package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bdougie/medai/internal/embeddings"
	"github.com/bdougie/medai/internal/models"
)

// ErrSearchUnavailable is returned by Search when no embedder is configured
var ErrSearchUnavailable = errors.New("history search requires an embedding model")

// History is an append-only, newest-first record of completed analyses
type History interface {
	// Append records entry as the newest item
	Append(ctx context.Context, entry models.HistoryEntry) error

	// Load returns every entry, newest first. It never returns nil on success.
	Load(ctx context.Context) ([]models.HistoryEntry, error)

	// Clear deletes all persisted history
	Clear(ctx context.Context) error

	Close() error
}

// Searcher is implemented by stores that can rank entries by similarity
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.HistoryEntry, error)
}

// Options selects and configures a history backend
type Options struct {
	Backend     string // json, sqlite or postgres
	JSONPath    string
	SQLitePath  string
	PostgresURL string

	// Embedder enables similarity search on the postgres backend
	Embedder     *embeddings.Service
	EmbeddingDim int
}

// Open returns the configured history backend
func Open(ctx context.Context, opts Options) (History, error) {
	switch opts.Backend {
	case "", "json":
		return NewJSONStore(opts.JSONPath), nil
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresURL, opts.Embedder, opts.EmbeddingDim)
	default:
		return nil, fmt.Errorf("unknown history backend %q", opts.Backend)
	}
}

// withID gives entries built without NewHistoryEntry an ID, so every backend
// accepts them alike
func withID(e models.HistoryEntry) models.HistoryEntry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return e
}
