package parquetio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// WriterOptions configures a Sink.
type WriterOptions struct {
	// Compression is one of uncompressed, snappy (default), gzip, zstd.
	Compression string
	// Parallelism is the number of goroutines parquet-go uses to encode
	// column pages inside one row group. Values above 1 make dictionary
	// page layout depend on scheduling, so output is only byte-identical
	// across runs at 1 (the default).
	Parallelism int64
	// Metadata is copied into the footer key-value metadata.
	Metadata map[string]string
}

// ParseCompression maps a codec name to the parquet-go enum.
func ParseCompression(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "zstd":
		return parquet.CompressionCodec_ZSTD, nil
	}
	return 0, fmt.Errorf("unsupported parquet compression %q", name)
}

// rowGroupSize keeps parquet-go from cutting row groups on its own: each
// WriteBatch ends exactly one row group.
const rowGroupSize = 1 << 40

var errNotStarted = errors.New("parquet sink: Begin was not called")

// Sink writes typed batches to a Parquet file, one row group per batch.
type Sink struct {
	pf     source.ParquetFile
	pw     *writer.CSVWriter
	opt    WriterOptions
	codec  parquet.CompressionCodec
	schema table.Schema
	rows   int64
	groups int
	done   bool

	// publish runs after a successful footer write; discard after Abort.
	publish func() error
	discard func() error
}

// NewFileSink writes to a temporary file next to path and renames it into
// place on Close, so an aborted or interrupted run never leaves a
// complete-looking file at path.
func NewFileSink(path string, opt WriterOptions) (*Sink, error) {
	codec, err := ParseCompression(opt.Compression)
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	pf, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return nil, err
	}
	return &Sink{
		pf:      pf,
		opt:     opt,
		codec:   codec,
		publish: func() error { return os.Rename(tmp, path) },
		discard: func() error {
			if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
				return err
			}
			return nil
		},
	}, nil
}

// NewWriterSink streams the Parquet bytes into w. Abort cannot retract
// bytes already written to w.
func NewWriterSink(w io.Writer, opt WriterOptions) (*Sink, error) {
	codec, err := ParseCompression(opt.Compression)
	if err != nil {
		return nil, err
	}
	return &Sink{
		pf:      writerfile.NewWriterFile(w),
		opt:     opt,
		codec:   codec,
		publish: func() error { return nil },
		discard: func() error { return nil },
	}, nil
}

func (s *Sink) Begin(schema table.Schema) error {
	if s.pw != nil {
		return errors.New("parquet sink: Begin called twice")
	}
	np := s.opt.Parallelism
	if np <= 0 {
		np = 1
	}
	pw, err := newCSVWriter(metadataTags(schema), s.pf, np)
	if err != nil {
		return err
	}
	pw.CompressionType = s.codec
	pw.RowGroupSize = rowGroupSize

	enc, err := encodeSchema(schema)
	if err != nil {
		return err
	}
	kv := map[string]string{SchemaKey: enc}
	for k, v := range s.opt.Metadata {
		if k != SchemaKey {
			kv[k] = v
		}
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := kv[k]
		pw.Footer.KeyValueMetadata = append(pw.Footer.KeyValueMetadata, &parquet.KeyValue{Key: k, Value: &v})
	}

	s.pw = pw
	s.schema = schema
	return nil
}

// WriteBatch writes every row of f and closes the row group.
func (s *Sink) WriteBatch(f *table.Frame) error {
	if s.pw == nil {
		return errNotStarted
	}
	if f.Rows() == 0 {
		return nil
	}
	for r := 0; r < f.Rows(); r++ {
		// parquet-go keeps a reference to rec until the flush below
		rec := make([]interface{}, f.Cols())
		for c := 0; c < f.Cols(); c++ {
			rec[c] = physicalValue(f.Value(r, c))
		}
		if err := s.pw.Write(rec); err != nil {
			return fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := s.pw.Flush(true); err != nil {
		return fmt.Errorf("parquet flush row group: %w", err)
	}
	s.rows += int64(f.Rows())
	s.groups++
	return nil
}

// newCSVWriter turns the panics parquet-go raises on schema tags it cannot
// parse into errors.
func newCSVWriter(md []string, pf source.ParquetFile, np int64) (pw *writer.CSVWriter, err error) {
	defer func() {
		if p := recover(); p != nil {
			pw, err = nil, fmt.Errorf("parquet writer init: %v", p)
		}
	}()
	pw, err = writer.NewCSVWriter(md, pf, np)
	if err != nil {
		return nil, fmt.Errorf("parquet writer init: %w", err)
	}
	return pw, nil
}

func physicalValue(v any) interface{} {
	switch t := v.(type) {
	case table.Date:
		return int32(t)
	case time.Time:
		return t.UnixMicro()
	}
	return v
}

// Close writes the footer and publishes the file.
func (s *Sink) Close() error {
	if s.done {
		return nil
	}
	if s.pw == nil {
		_ = s.Abort()
		return errNotStarted
	}
	s.done = true
	if err := s.pw.WriteStop(); err != nil {
		_ = s.pf.Close()
		_ = s.discard()
		return fmt.Errorf("parquet write footer: %w", err)
	}
	if err := s.pf.Close(); err != nil {
		_ = s.discard()
		return err
	}
	return s.publish()
}

// Abort releases the output without writing a footer and removes any
// temporary file.
func (s *Sink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.pf.Close()
	return s.discard()
}

func (s *Sink) Rows() int64    { return s.rows }
func (s *Sink) RowGroups() int { return s.groups }
