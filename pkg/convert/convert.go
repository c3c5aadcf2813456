// Package convert streams delimited text into typed batches.
//
// A run reads the header, buffers the first SampleRows records to infer
// column kinds (or checks them against a declared schema), locks the
// schema, and then coerces every record into a Frame. Full frames are
// handed to a Sink as one columnar unit each. Rows that fail to convert are
// handled by the OnError policy and summarized in the Report.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wdm0006/csv2parquet/pkg/infer"
	"github.com/wdm0006/csv2parquet/pkg/io/csvio"
	"github.com/wdm0006/csv2parquet/pkg/metrics"
	"github.com/wdm0006/csv2parquet/pkg/profile"
	"github.com/wdm0006/csv2parquet/pkg/table"
)

// Sink receives the locked schema and then typed batches.
type Sink interface {
	// Begin is called once, after the schema is locked.
	Begin(schema table.Schema) error
	// WriteBatch persists one frame as a single columnar unit. The frame is
	// reused after the call returns.
	WriteBatch(f *table.Frame) error
	// Close finalizes and publishes the output.
	Close() error
	// Abort discards an incomplete output.
	Abort() error
}

// Converter turns delimited text into batches for a Sink. It holds no
// per-run state, so one Converter may run several conversions in sequence.
type Converter struct {
	opts    Options
	nulls   infer.NullSet
	log     *zap.Logger
	metrics *metrics.Recorder
	topK    int
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records row and batch counters into m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Converter) { c.metrics = m }
}

// WithTopValues keeps the k most frequent values of string columns in the
// report's column statistics.
func WithTopValues(k int) Option {
	return func(c *Converter) { c.topK = k }
}

// New validates opts and returns a reusable Converter.
func New(opts Options, o ...Option) (*Converter, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.OnError, _ = ParseOnError(string(opts.OnError))
	c := &Converter{
		opts:  opts,
		nulls: infer.NewNullSet(opts.NullTokens),
		log:   zap.NewNop(),
	}
	for _, fn := range o {
		fn(c)
	}
	return c, nil
}

// Convert runs a single conversion with opts. A report is returned even
// when err is non-nil.
func Convert(ctx context.Context, input io.Reader, sink Sink, opts Options) (*Report, error) {
	c, err := New(opts)
	if err != nil {
		return &Report{Status: StatusFailed, Error: err.Error()}, err
	}
	return c.Convert(ctx, input, sink)
}

type sample struct {
	line int
	rec  []string
	err  error
}

// run holds the state of one Convert call.
type run struct {
	c    *Converter
	opts Options
	rr   *csvio.RecordReader
	sink Sink
	rep  *Report
	log  *zap.Logger

	schema table.Schema
	kinds  []table.Kind
	frame  *table.Frame
	stats  *profile.Collector
	vals   []any
}

// Convert reads input to the end, or until ctx is done, writing to sink.
//
// On a fatal error the sink is aborted. On cancellation the pending batch
// is dropped and the sink is left untouched: neither Close nor Abort is
// called, and the caller decides what to do with it.
func (c *Converter) Convert(ctx context.Context, input io.Reader, sink Sink) (*Report, error) {
	start := time.Now()
	r := &run{
		c:    c,
		opts: c.opts,
		sink: sink,
		rep:  &Report{RunID: uuid.NewString(), Status: StatusFailed},
		rr: csvio.NewRecordReader(input, csvio.ReaderOptions{
			Delimiter:  c.opts.delimiter(),
			LazyQuotes: c.opts.LazyQuotes,
			Comment:    c.opts.Comment,
		}),
	}
	r.log = c.log.With(zap.String("run_id", r.rep.RunID))

	err := r.run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrCanceled):
		r.rep.Status = StatusCanceled
	default:
		r.rep.Status = StatusFailed
		if aerr := sink.Abort(); aerr != nil {
			r.log.Warn("abort output", zap.Error(aerr))
		}
	}
	if err != nil {
		r.rep.Error = err.Error()
	}
	if r.stats != nil {
		r.rep.Columns = r.stats.Stats()
	}
	r.rep.Duration = time.Since(start)
	c.metrics.RunFinished(string(r.rep.Status), r.rep.Duration)

	fields := []zap.Field{
		zap.String("status", string(r.rep.Status)),
		zap.Int64("total", r.rep.RowsTotal),
		zap.Int64("processed", r.rep.RowsProcessed),
		zap.Int64("rejected", r.rep.RowsRejected),
		zap.Int64("nulled", r.rep.RowsNulled),
		zap.Int("batches", r.rep.Batches),
		zap.Duration("duration", r.rep.Duration),
	}
	if err != nil {
		r.log.Error("conversion finished", append(fields, zap.Error(err))...)
	} else {
		r.log.Info("conversion finished", fields...)
	}
	return r.rep, err
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}

func (r *run) run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	names, samples, err := r.readHead(ctx)
	if err != nil {
		return err
	}
	schema, err := r.lockSchema(names, samples)
	if err != nil {
		return err
	}
	if err := r.sink.Begin(schema); err != nil {
		return &IOError{Op: "begin output", Err: err}
	}

	r.schema = schema
	r.rep.Schema = schema.Clone()
	r.kinds = make([]table.Kind, len(schema.Columns))
	for i, cs := range schema.Columns {
		r.kinds[i] = cs.Type
	}
	r.vals = make([]any, len(schema.Columns))
	r.frame = table.NewFrameWithCapacity(schema, r.opts.BatchSize)
	r.stats = profile.NewCollector(schema, r.c.topK)

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		if err := r.row(s.line, s.rec, s.err); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}
		rec, err := r.rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil && !csvio.IsParseError(err) {
			return &IOError{Op: "read input", Err: err}
		}
		if err := r.row(r.rr.Line(), rec, err); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	if r.frame.Rows() > 0 {
		if err := r.flush(); err != nil {
			return err
		}
	}
	if err := r.sink.Close(); err != nil {
		return &IOError{Op: "close output", Err: err}
	}
	if r.rep.RowsRejected > 0 || r.rep.RowsNulled > 0 {
		r.rep.Status = StatusCompletedWithRejection
	} else {
		r.rep.Status = StatusSucceeded
	}
	return nil
}

// readHead consumes the header, if any, and buffers the sample records.
// names is empty only when the input holds no records at all.
func (r *run) readHead(ctx context.Context) ([]string, []sample, error) {
	var names []string
	if r.opts.HasHeader {
		rec, err := r.rr.Read()
		if err == io.EOF {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, &IOError{Op: "read header", Err: err}
		}
		names = headerNames(rec)
	}

	// without a header at least one record is needed for the width
	k := r.opts.SampleRows
	if !r.opts.HasHeader && k == 0 {
		k = 1
	}
	var samples []sample
	for len(samples) < k {
		if err := ctx.Err(); err != nil {
			return nil, nil, canceled(err)
		}
		rec, err := r.rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil && !csvio.IsParseError(err) {
			return nil, nil, &IOError{Op: "read input", Err: err}
		}
		s := sample{line: r.rr.Line(), err: err}
		if err == nil {
			s.rec = append([]string(nil), rec...)
		}
		samples = append(samples, s)
	}

	if !r.opts.HasHeader {
		for _, s := range samples {
			if s.err != nil {
				continue
			}
			names = make([]string, len(s.rec))
			for i := range names {
				names[i] = fmt.Sprintf("col_%d", i)
			}
			break
		}
	}
	return names, samples, nil
}

func headerNames(rec []string) []string {
	names := make([]string, len(rec))
	seen := make(map[string]bool, len(rec))
	for i, h := range rec {
		n := strings.TrimSpace(strings.TrimPrefix(strings.ToValidUTF8(h, "\uFFFD"), "\ufeff"))
		if n == "" {
			n = fmt.Sprintf("col_%d", i)
		}
		base := n
		for k := 1; seen[n]; k++ {
			n = fmt.Sprintf("%s_%d", base, k)
		}
		seen[n] = true
		names[i] = n
	}
	return names
}

func (r *run) lockSchema(names []string, samples []sample) (table.Schema, error) {
	decl := r.opts.Schema
	width := len(names)
	if width == 0 {
		if decl == nil {
			return table.Schema{}, &SchemaConflictError{Reason: "input has no records and no schema was declared"}
		}
		width = len(decl.Columns)
	}

	in := infer.New(width, r.c.nulls, r.opts.TrimSpace)
	for i, s := range samples {
		if i >= r.opts.SampleRows {
			break
		}
		if s.err == nil {
			in.Observe(s.rec)
		}
	}

	var schema table.Schema
	if decl == nil {
		schema = in.Schema(names)
	} else {
		if len(names) > 0 && len(decl.Columns) != len(names) {
			return table.Schema{}, &SchemaConflictError{
				Reason: fmt.Sprintf("declared schema has %d columns, input has %d", len(decl.Columns), len(names)),
			}
		}
		if r.opts.HasHeader {
			for i, n := range names {
				if want := decl.Columns[i].Name; n != want {
					return table.Schema{}, &SchemaConflictError{
						Column: want,
						Reason: fmt.Sprintf("header has %q at position %d", n, i),
					}
				}
			}
		}
		schema = decl.Clone()
		for i, cs := range schema.Columns {
			if _, ok := r.opts.TypeOverrides[cs.Name]; ok {
				continue
			}
			if k, backed := in.Kind(i); backed && !infer.Assignable(cs.Type, k) {
				return table.Schema{}, &SchemaConflictError{
					Column:   cs.Name,
					Declared: cs.Type,
					Inferred: k,
					Reason:   "sample values do not fit the declared type",
				}
			}
		}
	}

	over := make([]string, 0, len(r.opts.TypeOverrides))
	for name := range r.opts.TypeOverrides {
		over = append(over, name)
	}
	sort.Strings(over)
	for _, name := range over {
		i := schema.Index(name)
		if i < 0 {
			return table.Schema{}, &SchemaConflictError{Column: name, Reason: "type override names an unknown column"}
		}
		schema.Columns[i].Type = r.opts.TypeOverrides[name]
	}

	r.log.Info("schema locked",
		zap.Stringer("schema", schema),
		zap.Int("samples", in.Rows()),
		zap.Bool("declared", decl != nil),
		zap.Int("overrides", len(over)),
	)
	return schema, nil
}

// row converts one record. It returns an error only when the run must stop.
func (r *run) row(line int, rec []string, perr error) error {
	r.rep.RowsTotal++
	n := r.rep.RowsTotal
	if perr != nil {
		return r.bad(&MalformedRowError{Line: line, Row: n, Reason: "unparseable record", Err: perr})
	}
	if len(rec) != len(r.kinds) {
		return r.bad(&MalformedRowError{
			Line:   line,
			Row:    n,
			Reason: fmt.Sprintf("expected %d fields, got %d", len(r.kinds), len(rec)),
		})
	}

	var first *MalformedRowError
	mustReject := false
	for i, raw := range rec {
		v := raw
		if r.opts.TrimSpace {
			v = strings.TrimSpace(v)
		}
		cs := r.schema.Columns[i]
		var me *MalformedRowError
		if r.c.nulls.IsNull(v) {
			r.vals[i] = nil
			if cs.Nullable {
				continue
			}
			me = &MalformedRowError{Line: line, Row: n, Column: cs.Name, Value: raw, Kind: cs.Type, Reason: "null in non-nullable column"}
			mustReject = true
		} else {
			val, err := infer.Coerce(r.kinds[i], v)
			if err == nil {
				r.vals[i] = val
				continue
			}
			r.vals[i] = nil
			me = &MalformedRowError{Line: line, Row: n, Column: cs.Name, Value: raw, Kind: cs.Type, Reason: err.Error(), Err: err}
		}
		if r.opts.OnError != OnErrorNull {
			return r.bad(me)
		}
		if first == nil {
			first = me
		}
		if !cs.Nullable {
			mustReject = true
		}
	}

	if first != nil {
		if mustReject {
			r.reject(first)
			return nil
		}
		r.issue(first, "nulled")
		r.rep.RowsNulled++
		return r.emit(true)
	}
	return r.emit(false)
}

// bad applies the error policy to a row that has no usable fields.
func (r *run) bad(me *MalformedRowError) error {
	switch r.opts.OnError {
	case OnErrorSkip:
		r.reject(me)
		return nil
	case OnErrorNull:
		for _, cs := range r.schema.Columns {
			if !cs.Nullable {
				r.reject(me)
				return nil
			}
		}
		for i := range r.vals {
			r.vals[i] = nil
		}
		r.issue(me, "nulled")
		r.rep.RowsNulled++
		return r.emit(true)
	}
	r.reject(me)
	return me
}

func (r *run) reject(me *MalformedRowError) {
	r.rep.RowsRejected++
	r.c.metrics.RowRejected()
	r.issue(me, "rejected")
}

func (r *run) issue(me *MalformedRowError, action string) {
	r.rep.ErrorCount++
	limit := r.opts.MaxErrors
	if limit >= 0 && len(r.rep.Errors) >= limit {
		if r.rep.ErrorCount == int64(limit)+1 {
			r.log.Warn("row issue limit reached, further issues are only counted", zap.Int("max_errors", limit))
		}
		return
	}
	r.rep.Errors = append(r.rep.Errors, RowIssue{
		Line:   me.Line,
		Row:    me.Row,
		Column: me.Column,
		Value:  me.Value,
		Reason: me.Reason,
		Action: action,
	})
	r.log.Debug("row issue",
		zap.Int64("row", me.Row),
		zap.Int("line", me.Line),
		zap.String("column", me.Column),
		zap.String("reason", me.Reason),
		zap.String("action", action),
	)
}

// emit appends r.vals as a new row and flushes a full batch.
func (r *run) emit(nulled bool) error {
	if err := r.frame.AppendRow(r.vals); err != nil {
		return fmt.Errorf("append row %d: %w", r.rep.RowsTotal, err)
	}
	r.rep.RowsProcessed++
	r.c.metrics.RowProcessed(nulled)
	if r.frame.Rows() >= r.opts.BatchSize {
		return r.flush()
	}
	return nil
}

func (r *run) flush() error {
	n := r.frame.Rows()
	if err := r.sink.WriteBatch(r.frame); err != nil {
		return &IOError{Op: "write batch", Err: err}
	}
	r.stats.ConsumeFrame(r.frame)
	r.rep.Batches++
	r.c.metrics.BatchFlushed(n)
	r.log.Debug("batch flushed", zap.Int("batch", r.rep.Batches), zap.Int("rows", n))
	r.frame.Reset()
	return nil
}
