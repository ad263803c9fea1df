package cache

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// ParquetBackend serialises records as columnar parquet. The column schema
// comes from the parquet struct tags declared on T (name + primitive type),
// so each record type registers its schema at compile time. Each save
// writes a single row group.
type ParquetBackend[T any] struct{}

// NewParquetBackend creates a columnar-binary backend for T. T must carry
// parquet struct tags on every persisted field.
func NewParquetBackend[T any]() *ParquetBackend[T] {
	return &ParquetBackend[T]{}
}

// Ext returns the parquet file extension.
func (b *ParquetBackend[T]) Ext() string {
	return ".parquet"
}

// Write encodes records into one parquet row group.
func (b *ParquetBackend[T]) Write(w io.Writer, records []T) error {
	pf := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(pf, new(T), 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range records {
		if err := pw.Write(records[i]); err != nil {
			return fmt.Errorf("failed to write parquet row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalise parquet file: %w", err)
	}
	return nil
}

// Read decodes all rows from a parquet file.
func (b *ParquetBackend[T]) Read(r io.Reader) ([]T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet data: %w", err)
	}

	bf := buffer.NewBufferFileFromBytes(data)
	pr, err := reader.NewParquetReader(bf, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	records := make([]T, num)
	if num > 0 {
		if err := pr.Read(&records); err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}
