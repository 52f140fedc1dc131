package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which user action produced a history entry
type Kind string

const (
	KindPrescription Kind = "prescription"
	KindVideo        Kind = "video"
	KindChat         Kind = "chat"
	KindAudio        Kind = "audio"
)

// Valid reports whether k is one of the known entry kinds
func (k Kind) Valid() bool {
	switch k {
	case KindPrescription, KindVideo, KindChat, KindAudio:
		return true
	}
	return false
}

// Status tags an entry as a successful answer or a recorded failure
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// HistoryEntry is one completed analysis action. Entries are never updated.
type HistoryEntry struct {
	ID        string    `json:"id,omitempty"`
	Type      Kind      `json:"type"`
	Input     string    `json:"input"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
}

// NewHistoryEntry stamps a fresh entry with an ID and the current UTC time
func NewHistoryEntry(kind Kind, input, result string) HistoryEntry {
	return HistoryEntry{
		ID:        uuid.New().String(),
		Type:      kind,
		Input:     input,
		Result:    result,
		Timestamp: time.Now().UTC(),
		Status:    StatusOK,
	}
}

// Failed reports whether the entry records an error. Entries written before
// the status field existed have no status and count as successes.
func (e HistoryEntry) Failed() bool {
	return e.Status == StatusError
}

// legacyTimestamp is how older history files stored local, zone-less times
const legacyTimestamp = "2006-01-02 15:04:05.999999999"

// UnmarshalJSON accepts RFC 3339 timestamps as well as the zone-less
// "2006-01-02 15:04:05.123456" form, which is read as local time.
func (e *HistoryEntry) UnmarshalJSON(data []byte) error {
	type plain HistoryEntry
	aux := struct {
		*plain
		Timestamp string `json:"timestamp"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := ParseTimestamp(aux.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	return nil
}

// ParseTimestamp parses a stored entry time. An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(legacyTimestamp, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}
