// Package recovery re-persists the review documents of already collected
// restaurants after an interrupted run: it deduplicates records by review_id,
// keeps a single-generation backup of the previous document and rewrites the
// document as indented JSON.
package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/collect"
)

const documentContentType = "application/json; charset=utf-8"

// Manager implements collect.Persister over a collect.Layout.
type Manager struct {
	layout        collect.Layout
	archiver      collect.Archiver
	archivePrefix string
	logger        *zap.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithArchiver mirrors every persisted document to archiver under prefix.
func WithArchiver(archiver collect.Archiver, prefix string) Option {
	return func(m *Manager) {
		m.archiver = archiver
		m.archivePrefix = strings.Trim(prefix, "/")
	}
}

// New returns a Manager rooted at layout.OutputDir.
func New(layout collect.Layout, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{layout: layout, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge deduplicates records by review_id. The last record for a key wins but
// keeps the position of the key's first occurrence. Records without a
// review_id are dropped.
func Merge(records []collect.Record) (merged []collect.Record, missingKey int, duplicates int) {
	index := make(map[string]int, len(records))
	merged = make([]collect.Record, 0, len(records))
	for _, rec := range records {
		key, ok := rec.Key()
		if !ok {
			missingKey++
			continue
		}
		if pos, seen := index[key]; seen {
			merged[pos] = rec
			duplicates++
			continue
		}
		index[key] = len(merged)
		merged = append(merged, rec)
	}
	return merged, missingKey, duplicates
}

// ReadDocument parses the JSON array at p. A missing file yields no records.
// Any other read or parse problem is reported through malformed, never as an
// error, so one bad document cannot abort a recovery pass.
func ReadDocument(p string) (records []collect.Record, malformed bool, err error) {
	// #nosec G304 -- document paths derive from the configured output dir.
	raw, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, true, fmt.Errorf("read document %s: %w", p, err)
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, true, fmt.Errorf("parse document %s: %w", p, err)
	}
	return records, false, nil
}

// Persist rewrites the slug's document with duplicates and keyless records
// removed. An existing document is first moved to the .bak path, replacing
// any earlier backup. Filesystem errors during the backup move or the write
// are returned; a missing or malformed source document is persisted as an
// empty array.
func (m *Manager) Persist(ctx context.Context, slug string) (collect.PersistResult, error) {
	target := m.layout.DocumentPath(slug)
	res := collect.PersistResult{Slug: slug, Path: target}
	logger := m.logger.With(zap.String("slug", slug), zap.String("path", target))

	records, malformed, readErr := ReadDocument(target)
	if readErr != nil {
		logger.Warn("unreadable review document; treating as empty", zap.Error(readErr))
	}
	res.Read = len(records)
	res.Malformed = malformed

	merged, missing, dups := Merge(records)
	res.Kept, res.MissingKey, res.Duplicates = len(merged), missing, dups

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return res, fmt.Errorf("create document dir for %s: %w", slug, err)
	}
	backedUp, err := m.backup(slug)
	if err != nil {
		return res, err
	}
	res.BackedUp = backedUp
	if backedUp {
		logger.Info("simple backup created", zap.String("backup", m.layout.BackupPath(slug)))
	}

	payload, err := encodeDocument(merged)
	if err != nil {
		return res, fmt.Errorf("encode document for %s: %w", slug, err)
	}
	if err := writeFileAtomic(target, payload); err != nil {
		return res, fmt.Errorf("write document %s: %w", target, err)
	}
	logger.Info("reviews saved",
		zap.Int("kept", res.Kept),
		zap.Int("read", res.Read),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("missing_review_id", res.MissingKey),
	)

	res.ArchiveURI = m.archive(ctx, slug, payload, logger)
	return res, nil
}

// writeFileAtomic writes data to a temp file beside target and renames it
// into place, so readers never observe a half-written document.
func writeFileAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// backup moves an existing document to the .bak sibling.
func (m *Manager) backup(slug string) (bool, error) {
	target := m.layout.DocumentPath(slug)
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat document %s: %w", target, err)
	}
	bak := m.layout.BackupPath(slug)
	if err := os.Rename(target, bak); err != nil {
		return false, fmt.Errorf("backup %s to %s: %w", target, bak, err)
	}
	return true, nil
}

func (m *Manager) archive(ctx context.Context, slug string, payload []byte, logger *zap.Logger) string {
	if m.archiver == nil {
		return ""
	}
	key := path.Join(slug, slug+".json")
	if m.archivePrefix != "" {
		key = path.Join(m.archivePrefix, key)
	}
	uri, err := m.archiver.PutObject(ctx, key, documentContentType, bytes.NewReader(payload))
	if err != nil {
		logger.Warn("archive document failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	logger.Debug("document archived", zap.String("uri", uri))
	return uri
}

func encodeDocument(records []collect.Record) ([]byte, error) {
	if records == nil {
		records = []collect.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return buf.Bytes(), nil
}
