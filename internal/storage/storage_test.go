package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/bdougie/medai/internal/models"
)

func entry(kind models.Kind, input string, offset time.Duration) models.HistoryEntry {
	e := models.NewHistoryEntry(kind, input, "result for "+input)
	e.Timestamp = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return e
}

// exerciseHistory runs the behaviour every backend must share
func exerciseHistory(t *testing.T, h History) {
	t.Helper()
	ctx := context.Background()

	got, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("empty load=%v, want empty non-nil slice", got)
	}

	first := entry(models.KindPrescription, "assets/temp/rx.png", 0)
	if err := h.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err = h.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], first) {
		t.Fatalf("load after append=%+v, want %+v", got, first)
	}

	failed := entry(models.KindChat, "is this serious?", time.Second)
	failed.Status = models.StatusError
	failed.ErrorKind = "gateway"
	failed.Result = "Error in chat assistance: timeout"
	appended := []models.HistoryEntry{
		failed,
		entry(models.KindVideo, "assets/temp/squat.mp4", 2*time.Second),
		entry(models.KindAudio, "assets/temp/visit.wav", 3*time.Second),
	}
	for _, e := range appended {
		if err := h.Append(ctx, e); err != nil {
			t.Fatalf("append %s: %v", e.Type, err)
		}
	}

	got, err = h.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []models.HistoryEntry{appended[2], appended[1], appended[0], first}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order mismatch:\n got=%+v\nwant=%+v", got, want)
	}
	if !got[2].Failed() || got[2].ErrorKind != "gateway" {
		t.Fatalf("status not preserved: %+v", got[2])
	}

	again, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("load is not idempotent")
	}

	if err := h.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = h.Load(ctx)
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("entries after clear=%d", len(got))
	}
	if err := h.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	// entries without an ID get one on every backend
	for _, input := range []string{"one", "two"} {
		e := entry(models.KindChat, input, 0)
		e.ID = ""
		if err := h.Append(ctx, e); err != nil {
			t.Fatalf("append without id: %v", err)
		}
	}
	got, err = h.Load(ctx)
	if err != nil {
		t.Fatalf("load id-less entries: %v", err)
	}
	if len(got) != 2 || got[0].ID == "" || got[1].ID == "" || got[0].ID == got[1].ID {
		t.Fatalf("id-less entries=%+v", got)
	}
	if err := h.Clear(ctx); err != nil {
		t.Fatalf("final clear: %v", err)
	}
}

func TestJSONStore(t *testing.T) {
	t.Parallel()

	h := NewJSONStore(filepath.Join(t.TempDir(), "nested", "history.json"))
	defer h.Close()
	exerciseHistory(t, h)
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	h, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer h.Close()
	exerciseHistory(t, h)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("MEDAI_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("MEDAI_TEST_POSTGRES_URL not set")
	}

	h, err := NewPostgresStore(context.Background(), url, nil, 0)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer h.Close()
	if err := h.Clear(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	exerciseHistory(t, h)

	if _, err := h.Search(context.Background(), "posture", 5); err != ErrSearchUnavailable {
		t.Fatalf("search err=%v, want ErrSearchUnavailable", err)
	}
}

func TestJSONStoreFileFormat(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	h := NewJSONStore(path)
	ctx := context.Background()
	older := entry(models.KindChat, "old", 0)
	newer := entry(models.KindChat, "new", time.Minute)
	if err := h.Append(ctx, older); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Append(ctx, newer); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("history file is not a JSON array: %v", err)
	}
	if len(raw) != 2 || raw[0]["input"] != "new" || raw[1]["input"] != "old" {
		t.Fatalf("file order=%v", raw)
	}
	for _, key := range []string{"type", "input", "result", "timestamp"} {
		if _, ok := raw[0][key]; !ok {
			t.Fatalf("entry missing key %q", key)
		}
	}

	// no temp files are left next to the history
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want only history.json", len(entries))
	}
}

func TestJSONStoreLoadsLegacyEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	legacy := `[
  {"type":"chat","input":"hi","result":"hello","timestamp":"2025-01-02 03:04:05.123456"},
  {"type":"audio","input":"visit.wav","result":"notes","timestamp":"2025-01-01 09:00:00"}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	h := NewJSONStore(path)
	got, err := h.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Type != models.KindChat || got[0].Status != models.StatusOK || got[0].Failed() {
		t.Fatalf("legacy entry=%+v", got)
	}
	want := time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.Local)
	if !got[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp=%v, want %v", got[0].Timestamp, want)
	}
	if got[1].Timestamp.Second() != 0 || got[1].Timestamp.IsZero() {
		t.Fatalf("timestamp without fraction=%v", got[1].Timestamp)
	}

	// a legacy file must stay writable
	if err := h.Append(context.Background(), models.NewHistoryEntry(models.KindChat, "again", "ok")); err != nil {
		t.Fatalf("append to legacy file: %v", err)
	}
	got, err = h.Load(context.Background())
	if err != nil || len(got) != 3 || got[0].Input != "again" || got[2].Input != "visit.wav" {
		t.Fatalf("after append: %+v, %v", got, err)
	}
}

func TestJSONStoreCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not an array"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := NewJSONStore(path)
	if _, err := h.Load(context.Background()); err == nil {
		t.Fatalf("expected error for corrupt history")
	}
	if err := h.Append(context.Background(), entry(models.KindChat, "q", 0)); err == nil {
		t.Fatalf("append must not overwrite a corrupt history")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Options{Backend: "redis"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	h, err := Open(context.Background(), Options{JSONPath: filepath.Join(t.TempDir(), "h.json")})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if _, ok := h.(*JSONStore); !ok {
		t.Fatalf("default backend=%T, want *JSONStore", h)
	}
}
