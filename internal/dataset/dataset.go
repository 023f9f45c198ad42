// Package dataset reads the restaurant list that drives a collection run.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/review-harvester/internal/collect"
)

// Options selects the columns and delimiter of the input file.
type Options struct {
	NameColumn string
	IDColumn   string
	Delimiter  rune
}

// Result is the parsed dataset plus the number of rows that were unusable.
type Result struct {
	Entities []collect.Entity
	Skipped  int
}

func (o Options) withDefaults() Options {
	if o.NameColumn == "" {
		o.NameColumn = "name"
	}
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	return o
}

// Load reads entities from the delimited file at path.
func Load(path string, opts Options) (Result, error) {
	// #nosec G304 -- dataset path is operator supplied.
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &collect.ConfigError{Op: "open dataset", Path: path, Err: err}
	}
	defer f.Close() //nolint:errcheck // read-only handle

	res, err := Read(f, opts)
	if err != nil {
		return Result{}, &collect.ConfigError{Op: "read dataset", Path: path, Err: err}
	}
	return res, nil
}

// Read parses entities from r. The first row must be a header containing the
// configured name and id columns.
func Read(r io.Reader, opts Options) (Result, error) {
	opts = opts.withDefaults()
	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("dataset is empty")
		}
		return Result{}, fmt.Errorf("read header: %w", err)
	}
	nameIdx, idIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case opts.NameColumn:
			nameIdx = i
		case opts.IDColumn:
			idIdx = i
		}
	}
	if nameIdx < 0 {
		return Result{}, fmt.Errorf("missing required column %q", opts.NameColumn)
	}
	if idIdx < 0 {
		return Result{}, fmt.Errorf("missing required column %q", opts.IDColumn)
	}

	var res Result
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read row: %w", err)
		}
		if nameIdx >= len(row) || idIdx >= len(row) {
			res.Skipped++
			continue
		}
		name := strings.TrimSpace(row[nameIdx])
		id := strings.TrimSpace(row[idIdx])
		if name == "" || id == "" {
			res.Skipped++
			continue
		}
		res.Entities = append(res.Entities, collect.Entity{Name: name, ExternalID: id})
	}
	return res, nil
}
