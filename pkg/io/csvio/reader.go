package csvio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"io"
)

type ReaderOptions struct {
	Delimiter  rune // 0 = ','
	LazyQuotes bool
	Comment    rune
}

// RecordReader yields raw records without enforcing a field count, so the
// caller decides what a width mismatch means.
type RecordReader struct {
	r    *csv.Reader
	line int
}

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// NewRecordReader wraps r. A leading UTF-8 byte order mark is dropped.
func NewRecordReader(r io.Reader, opt ReaderOptions) *RecordReader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(3)
	}
	rr := csv.NewReader(br)
	if opt.Delimiter != 0 {
		rr.Comma = opt.Delimiter
	}
	rr.Comment = opt.Comment
	rr.LazyQuotes = opt.LazyQuotes
	rr.FieldsPerRecord = -1
	rr.ReuseRecord = true
	return &RecordReader{r: rr}
}

// Read returns the next record. The slice is reused by the following call.
// A *csv.ParseError leaves the reader positioned after the offending record.
func (r *RecordReader) Read() ([]string, error) {
	rec, err := r.r.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			r.line = pe.StartLine
		}
		return nil, err
	}
	r.line, _ = r.r.FieldPos(0)
	return rec, nil
}

// Line is the input line on which the last record started.
func (r *RecordReader) Line() int { return r.line }

// IsParseError reports whether err is a recoverable per-record syntax error.
func IsParseError(err error) bool {
	var pe *csv.ParseError
	return errors.As(err, &pe)
}

// SniffDelimiter picks the most frequent candidate delimiter in sample.
func SniffDelimiter(sample []byte) rune {
	if len(sample) == 0 {
		return ','
	}
	// look at the first few lines only; quoted text further down skews counts
	if lines := bytes.SplitN(sample, []byte{'\n'}, 6); len(lines) > 1 {
		sample = bytes.Join(lines[:len(lines)-1], []byte{'\n'})
	}
	candidates := []byte{',', '\t', ';', '|'}
	best := byte(',')
	bestCount := 0
	for _, c := range candidates {
		cnt := bytes.Count(sample, []byte{c})
		if cnt > bestCount {
			bestCount = cnt
			best = c
		}
	}
	return rune(best)
}

// SniffReader peeks at the head of r to choose a delimiter and returns a
// reader that still yields the full stream.
func SniffReader(r io.Reader) (rune, io.Reader) {
	br := bufio.NewReaderSize(r, 8192)
	sample, _ := br.Peek(4096)
	return SniffDelimiter(sample), br
}
