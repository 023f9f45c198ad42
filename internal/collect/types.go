package collect

import (
	"bytes"
	"encoding/json"
	"time"
)

// Entity is one restaurant row read from the input dataset.
type Entity struct {
	Name       string `json:"name"`
	ExternalID string `json:"external_id"`
}

// RunConfig is the per-entity configuration handed to the external worker.
type RunConfig struct {
	Slug        string
	Restaurant  string
	URL         string
	JSONPath    string
	SeenIDsPath string
	// Path is where the materialized config file was written.
	Path string
	// Digest is the hex SHA-256 of the written config bytes.
	Digest string
}

// Record is one collected review exactly as the worker wrote it. Only the
// review_id field is interpreted; every other field round-trips untouched.
type Record json.RawMessage

// ReviewIDKey is the field that uniquely identifies a Record.
const ReviewIDKey = "review_id"

// Key returns the compact JSON token of the record's review_id and whether the
// field is present. "1" and 1 are distinct keys; an explicit null is a key.
// Non-object records have no key.
func (r Record) Key() (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r, &fields); err != nil || fields == nil {
		return "", false
	}
	raw, ok := fields[ReviewIDKey]
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", false
	}
	return buf.String(), true
}

// MarshalJSON emits the record verbatim.
func (r Record) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON keeps a copy of the raw bytes.
func (r *Record) UnmarshalJSON(data []byte) error {
	*r = append((*r)[:0], data...)
	return nil
}

// PersistResult summarizes one recovery persistence event.
type PersistResult struct {
	Slug       string
	Path       string
	Read       int
	Kept       int
	MissingKey int
	Duplicates int
	BackedUp   bool
	Malformed  bool
	ArchiveURI string
}

// Summary describes how an orchestration run ended.
type Summary struct {
	RunID       string
	Attempted   int
	Skipped     int
	Collected   []string
	InFlight    string
	Interrupted bool
	Recovered   []PersistResult
	Duration    time.Duration
}
