package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/medai/internal/models"
)

// JSONStore keeps history as a JSON array in one file. Writes replace the
// file atomically so a crash never leaves a truncated history, and a mutex
// serialises writers within the process.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a store backed by the file at path
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

func (s *JSONStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries = append([]models.HistoryEntry{withID(entry)}, entries...)
	return writeJSONAtomic(s.path, entries)
}

func (s *JSONStore) Load(ctx context.Context) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *JSONStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) read() ([]models.HistoryEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}

	entries := []models.HistoryEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	for i := range entries {
		if entries[i].Status == "" {
			entries[i].Status = models.StatusOK
		}
	}
	return entries, nil
}

// writeJSONAtomic writes v to a temp file in the target directory, syncs it
// and renames it over path
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp_history_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
