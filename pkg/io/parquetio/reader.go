package parquetio

import (
	"fmt"
	"io"
	"os"
	"time"

	parquet "github.com/segmentio/parquet-go"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// Reader streams a Parquet file as Frames of up to chunkSize rows.
type Reader struct {
	file     *os.File
	pf       *parquet.File
	schema   table.Schema
	embedded bool

	chunkSize int
	groups    []parquet.RowGroup
	next      int
	rows      parquet.Rows
	buf       []parquet.Row
}

// OpenReader opens the Parquet file at path. A chunkSize of zero or less
// uses 8192.
func OpenReader(path string, chunkSize int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	schema, embedded, err := fileSchema(pf)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	return &Reader{
		file:      f,
		pf:        pf,
		schema:    schema,
		embedded:  embedded,
		chunkSize: chunkSize,
		groups:    pf.RowGroups(),
		buf:       make([]parquet.Row, chunkSize),
	}, nil
}

// fileSchema prefers the schema stored under SchemaKey and falls back to
// mapping the physical Parquet types.
func fileSchema(pf *parquet.File) (table.Schema, bool, error) {
	fields := pf.Schema().Fields()
	if v, ok := pf.Lookup(SchemaKey); ok {
		s, err := decodeSchema(v)
		if err != nil {
			return table.Schema{}, false, err
		}
		if len(s.Columns) != len(fields) {
			return table.Schema{}, false, fmt.Errorf("schema metadata lists %d columns, file has %d", len(s.Columns), len(fields))
		}
		return s, true, nil
	}
	s := table.Schema{Columns: make([]table.ColumnSchema, len(fields))}
	for i, fd := range fields {
		s.Columns[i] = table.ColumnSchema{Name: fd.Name(), Type: kindOf(fd.Type()), Nullable: fd.Optional()}
	}
	return s, false, nil
}

func kindOf(t parquet.Type) table.Kind {
	switch t.Kind() {
	case parquet.Boolean:
		return table.KindBool
	case parquet.Int32, parquet.Int64:
		return table.KindInt
	case parquet.Float, parquet.Double:
		return table.KindFloat
	}
	return table.KindString
}

func (r *Reader) Schema() table.Schema { return r.schema }

// EmbeddedSchema reports whether the schema came from footer metadata.
func (r *Reader) EmbeddedSchema() bool { return r.embedded }

func (r *Reader) NumRows() int64 { return r.pf.NumRows() }

// Next returns the next frame, or io.EOF once every row group is drained.
func (r *Reader) Next() (*table.Frame, error) {
	f := table.NewFrameWithCapacity(r.schema, r.chunkSize)
	for f.Rows() < r.chunkSize {
		if r.rows == nil {
			if r.next >= len(r.groups) {
				break
			}
			r.rows = r.groups[r.next].Rows()
			r.next++
		}
		n, err := r.rows.ReadRows(r.buf[:r.chunkSize-f.Rows()])
		for i := 0; i < n; i++ {
			if err := r.appendRow(f, r.buf[i]); err != nil {
				return nil, err
			}
		}
		if err == io.EOF {
			_ = r.rows.Close()
			r.rows = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}
	if f.Rows() == 0 {
		return nil, io.EOF
	}
	return f, nil
}

func (r *Reader) appendRow(f *table.Frame, row parquet.Row) error {
	f.AppendNullRow()
	at := f.Rows() - 1
	for _, v := range row {
		if v.IsNull() {
			continue
		}
		c := v.Column()
		if c < 0 || c >= f.Cols() {
			return fmt.Errorf("parquet value for unknown column %d", c)
		}
		if err := f.SetCellAt(at, c, r.convert(r.schema.Columns[c].Type, v)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) convert(k table.Kind, v parquet.Value) any {
	switch k {
	case table.KindInt:
		if v.Kind() == parquet.Int32 {
			return int64(v.Int32())
		}
		return v.Int64()
	case table.KindFloat:
		if v.Kind() == parquet.Float {
			return float64(v.Float())
		}
		return v.Double()
	case table.KindBool:
		return v.Boolean()
	case table.KindDate:
		return table.Date(v.Int32())
	case table.KindTime:
		return time.UnixMicro(v.Int64()).UTC()
	}
	if v.Kind() == parquet.ByteArray || v.Kind() == parquet.FixedLenByteArray {
		return string(v.ByteArray())
	}
	return v.String()
}

func (r *Reader) Close() error {
	if r.rows != nil {
		_ = r.rows.Close()
		r.rows = nil
	}
	return r.file.Close()
}
