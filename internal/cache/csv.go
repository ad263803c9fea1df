package cache

import (
	"encoding/csv"
	"fmt"
	"io"
)

// DefaultDelimiter is used when a CSVBackend is constructed without one.
const DefaultDelimiter = ';'

// Schema describes how a record type maps to delimited-text columns. It is
// registered explicitly alongside the record type rather than derived by
// reflection.
type Schema[T any] struct {
	Columns   []string
	Marshal   func(T) []string
	Unmarshal func([]string) T
}

// CSVBackend serialises records as delimited text, one row per record with
// a header row. Reads tolerate missing or malformed fields by substituting
// empty values rather than failing the whole file.
type CSVBackend[T any] struct {
	schema    Schema[T]
	delimiter rune
}

// NewCSVBackend creates a delimited-text backend for the given schema.
// A zero delimiter selects DefaultDelimiter.
func NewCSVBackend[T any](schema Schema[T], delimiter rune) *CSVBackend[T] {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	return &CSVBackend[T]{schema: schema, delimiter: delimiter}
}

// Ext returns the delimited-text file extension.
func (b *CSVBackend[T]) Ext() string {
	return ".csv"
}

// Write encodes records as delimited text with a header row.
func (b *CSVBackend[T]) Write(w io.Writer, records []T) error {
	cw := csv.NewWriter(w)
	cw.Comma = b.delimiter

	if err := cw.Write(b.schema.Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range records {
		if err := cw.Write(b.schema.Marshal(records[i])); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read decodes records from delimited text. Rows shorter than the schema
// are padded with empty fields; longer rows are truncated.
func (b *CSVBackend[T]) Read(r io.Reader) ([]T, error) {
	cr := csv.NewReader(r)
	cr.Comma = b.delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	// Header row.
	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return []T{}, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	width := len(b.schema.Columns)
	var records []T
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		for len(fields) < width {
			fields = append(fields, "")
		}
		records = append(records, b.schema.Unmarshal(fields[:width]))
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}
