package candidates

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Table is a CSV file held in memory with a named header.
type Table struct {
	Header []string
	Rows   [][]string
	cols   map[string]int
}

// NewTable builds a table from a header and rows.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows, cols: make(map[string]int, len(header))}
	for i, h := range header {
		if _, dup := t.cols[h]; !dup {
			t.cols[h] = i
		}
	}
	return t
}

// Has reports whether the table has a column.
func (t *Table) Has(column string) bool {
	_, ok := t.cols[column]
	return ok
}

// Get returns row's value for column, or "" when either is absent.
func (t *Table) Get(row []string, column string) string {
	i, ok := t.cols[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// ReadTable reads a CSV file whose first row is the header.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s is empty", path)
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = trimBOM(header[0])
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if len(row) == 1 && row[0] == "" {
			continue
		}
		rows = append(rows, row)
	}
	return NewTable(header, rows), nil
}

// WriteTable writes t to path, replacing any existing file.
func WriteTable(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return f.Close()
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}
