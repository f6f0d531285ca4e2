// Package rowfile buffers mapped child records (contacts, deals) on disk
// between the download and build phases.
//
// A row file is a Parquet file whose columns are the labels of a
// fieldmap.Table, all nullable UTF-8 strings. Rows are appended one page at a
// time and read back in batches. The total row count is available from the
// file footer before iteration starts, which drives build progress.
package rowfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"go.uber.org/multierr"

	"hs2sf/internal/fieldmap"
)

// DefaultBatchSize is the number of rows handed to Each callbacks.
const DefaultBatchSize = 1024

// ErrNoColumns is returned by Create for an empty label list.
var ErrNoColumns = errors.New("rowfile: no columns")

func schemaFor(labels []string) *arrow.Schema {
	fields := make([]arrow.Field, len(labels))
	for i, l := range labels {
		fields[i] = arrow.Field{Name: l, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Writer appends rows to a new row file.
type Writer struct {
	f      *os.File
	fw     *pqarrow.FileWriter
	schema *arrow.Schema
	labels []string
	mem    memory.Allocator
	rows   int64
}

// Create truncates or creates path and prepares it for rows with the given
// labels.
func Create(path string, labels []string) (*Writer, error) {
	if len(labels) == 0 {
		return nil, ErrNoColumns
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rowfile: create %s: %w", path, err)
	}

	schema := schemaFor(labels)
	props := parquet.NewWriterProperties(parquet.WithDictionaryDefault(false))
	fw, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rowfile: new writer %s: %w", path, err)
	}

	return &Writer{
		f:      f,
		fw:     fw,
		schema: schema,
		labels: append([]string(nil), labels...),
		mem:    memory.NewGoAllocator(),
	}, nil
}

// WriteBatch appends rows. Labels missing from a row are written as null.
func (w *Writer) WriteBatch(rows []*fieldmap.Row) error {
	if len(rows) == 0 {
		return nil
	}

	b := array.NewRecordBuilder(w.mem, w.schema)
	defer b.Release()

	for i, l := range w.labels {
		sb := b.Field(i).(*array.StringBuilder)
		sb.Reserve(len(rows))
		for _, r := range rows {
			if v := r.Value(l); v.Valid {
				sb.Append(v.String)
			} else {
				sb.AppendNull()
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("rowfile: write batch: %w", err)
	}
	w.rows += int64(len(rows))
	return nil
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close writes the footer and closes the file.
func (w *Writer) Close() error {
	err := w.fw.Close()
	if cerr := w.f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("rowfile: close: %w", err)
	}
	return nil
}

// Reader iterates over a row file.
type Reader struct {
	pf     *file.Reader
	fr     *pqarrow.FileReader
	labels []string
}

// Open opens path for reading. batchSize <= 0 selects DefaultBatchSize.
func Open(path string, batchSize int) (*Reader, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("rowfile: open %s: %w", path, err)
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.NewGoAllocator())
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("rowfile: reader %s: %w", path, err)
	}
	schema, err := fr.Schema()
	if err != nil {
		_ = pf.Close()
		return nil, fmt.Errorf("rowfile: schema %s: %w", path, err)
	}

	labels := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		labels[i] = f.Name
	}
	return &Reader{pf: pf, fr: fr, labels: labels}, nil
}

// NumRows returns the row count recorded in the file footer.
func (r *Reader) NumRows() int64 { return r.pf.NumRows() }

// Labels returns the column labels in file order.
func (r *Reader) Labels() []string { return r.labels }

// Each calls fn with consecutive batches of rows until the file is exhausted
// or fn returns an error.
func (r *Reader) Each(ctx context.Context, fn func(rows []*fieldmap.Row) error) error {
	if r.pf.NumRowGroups() == 0 {
		return nil
	}
	rr, err := r.fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("rowfile: record reader: %w", err)
	}
	defer rr.Release()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := rr.Read()
		if errors.Is(err, io.EOF) || (err == nil && rec == nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rowfile: read batch: %w", err)
		}
		rows, err := r.decode(rec)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := fn(rows); err != nil {
			return err
		}
	}
}

func (r *Reader) decode(rec arrow.Record) ([]*fieldmap.Row, error) {
	n := int(rec.NumRows())
	rows := make([]*fieldmap.Row, n)
	for i := range rows {
		rows[i] = fieldmap.NewRow(len(r.labels))
	}
	for c, l := range r.labels {
		col, ok := rec.Column(c).(*array.String)
		if !ok {
			return nil, fmt.Errorf("rowfile: column %q has type %s, want utf8", l, rec.Column(c).DataType())
		}
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				rows[i].Set(l, fieldmap.Null)
			} else {
				rows[i].Set(l, fieldmap.Text(col.Value(i)))
			}
		}
	}
	return rows, nil
}

// Close releases the file.
func (r *Reader) Close() error {
	if err := r.pf.Close(); err != nil {
		return fmt.Errorf("rowfile: close reader: %w", err)
	}
	return nil
}
