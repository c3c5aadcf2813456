package csvio

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

type WriterOptions struct {
	Delimiter rune // default ','
	NullValue string
}

// StreamWriter appends frames as CSV with a header (written once).
type StreamWriter struct {
	w           *csv.Writer
	out         io.WriteCloser
	wroteHeader bool
	schema      table.Schema
	opt         WriterOptions
	row         []string
}

func NewStreamWriter(out io.WriteCloser, schema table.Schema, opt WriterOptions) *StreamWriter {
	w := csv.NewWriter(out)
	if opt.Delimiter != 0 {
		w.Comma = opt.Delimiter
	}
	return &StreamWriter{w: w, out: out, schema: schema, opt: opt, row: make([]string, len(schema.Columns))}
}

func (s *StreamWriter) writeHeader() error {
	if s.wroteHeader {
		return nil
	}
	s.wroteHeader = true
	return s.w.Write(s.schema.Names())
}

func (s *StreamWriter) Write(fr *table.Frame) error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	for r := 0; r < fr.Rows(); r++ {
		for c := range s.schema.Columns {
			s.row[c] = FormatValue(fr.Value(r, c), s.opt.NullValue)
		}
		if err := s.w.Write(s.row); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

// Close writes the header if no frame arrived, then flushes and closes.
func (s *StreamWriter) Close() error {
	if err := s.writeHeader(); err != nil {
		_ = s.out.Close()
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.out.Close()
		return err
	}
	return s.out.Close()
}

// FormatValue renders a typed cell in its canonical text form.
func FormatValue(v any, null string) string {
	switch t := v.(type) {
	case nil:
		return null
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case table.Date:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return ""
}
