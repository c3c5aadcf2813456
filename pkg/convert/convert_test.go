package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

type memSink struct {
	schema    table.Schema
	begun     bool
	closed    bool
	aborted   bool
	batches   [][][]any
	failWrite error
	onBatch   func()
}

func (m *memSink) Begin(s table.Schema) error {
	m.schema = s
	m.begun = true
	return nil
}

func (m *memSink) WriteBatch(f *table.Frame) error {
	if m.failWrite != nil {
		return m.failWrite
	}
	var b [][]any
	for r := 0; r < f.Rows(); r++ {
		row := make([]any, f.Cols())
		for c := range row {
			row[c] = f.Value(r, c)
		}
		b = append(b, row)
	}
	m.batches = append(m.batches, b)
	if m.onBatch != nil {
		m.onBatch()
	}
	return nil
}

func (m *memSink) Close() error { m.closed = true; return nil }
func (m *memSink) Abort() error { m.aborted = true; return nil }

func (m *memSink) rows() [][]any {
	var out [][]any
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func convertString(t *testing.T, in string, opts Options, o ...Option) (*Report, *memSink, error) {
	t.Helper()
	sink := &memSink{}
	c, err := New(opts, o...)
	require.NoError(t, err)
	rep, err := c.Convert(context.Background(), strings.NewReader(in), sink)
	require.NotNil(t, rep)
	assert.Equal(t, rep.RowsTotal, rep.RowsProcessed+rep.RowsRejected, "processed + rejected == total")
	return rep, sink, err
}

func TestSkipRejectsUnparseableScore(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorSkip
	opts.SampleRows = 1

	rep, sink, err := convertString(t, "id,score\n1,3.5\n2,bad\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.RowsProcessed)
	assert.Equal(t, int64(1), rep.RowsRejected)
	assert.Equal(t, StatusCompletedWithRejection, rep.Status)
	assert.Equal(t, [][]any{{int64(1), 3.5}}, sink.rows())
	assert.True(t, sink.closed)

	require.Len(t, rep.Errors, 1)
	assert.Equal(t, RowIssue{Line: 3, Row: 2, Column: "score", Value: "bad", Reason: `cannot parse "bad" as float`, Action: "rejected"}, rep.Errors[0])
	require.Len(t, rep.Columns, 2)
	assert.Equal(t, "3.5", rep.Columns[1].Max)
}

func TestSkipWithTypeOverride(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorSkip
	opts.TypeOverrides = map[string]table.Kind{"score": table.KindFloat}

	rep, sink, err := convertString(t, "id,score\n1,3.5\n2,bad\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.RowsProcessed)
	assert.Equal(t, int64(1), rep.RowsRejected)
	assert.Equal(t, table.KindFloat, rep.Schema.Columns[1].Type)
	assert.Equal(t, [][]any{{int64(1), 3.5}}, sink.rows())
}

func TestNoHeaderInfersInts(t *testing.T) {
	opts := DefaultOptions()
	opts.HasHeader = false

	rep, sink, err := convertString(t, "1,2,3\n4,5,6\n", opts)
	require.NoError(t, err)
	assert.Equal(t, "col_0:int, col_1:int, col_2:int", rep.Schema.String())
	assert.Equal(t, int64(2), rep.RowsProcessed)
	assert.Equal(t, [][]any{{int64(1), int64(2), int64(3)}, {int64(4), int64(5), int64(6)}}, sink.rows())
}

func TestFailOnShortRow(t *testing.T) {
	rep, sink, err := convertString(t, "a,b,c\n1,2,3\n4,5\n6,7,8\n", DefaultOptions())
	require.Error(t, err)

	var me *MalformedRowError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, int64(2), me.Row)
	assert.Equal(t, 3, me.Line)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.True(t, sink.aborted)
	assert.False(t, sink.closed)
	assert.Empty(t, sink.batches, "pending batch not flushed")
	assert.Equal(t, int64(2), rep.RowsTotal)
}

func TestNullPolicy(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorNull
	opts.TypeOverrides = map[string]table.Kind{"b": table.KindInt}

	rep, sink, err := convertString(t, "a,b\n1,x\n2\n3,4\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.RowsProcessed)
	assert.Equal(t, int64(2), rep.RowsNulled)
	assert.Zero(t, rep.RowsRejected)
	assert.Equal(t, StatusCompletedWithRejection, rep.Status)
	assert.Equal(t, [][]any{{int64(1), nil}, {nil, nil}, {int64(3), int64(4)}}, sink.rows())
	require.Len(t, rep.Errors, 2)
	assert.Equal(t, "nulled", rep.Errors[0].Action)
	assert.Equal(t, "b", rep.Errors[0].Column)
	assert.Equal(t, "expected 2 fields, got 1", rep.Errors[1].Reason)
}

func TestNullPolicyRejectsNonNullableColumn(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorNull
	opts.Schema = &table.Schema{Columns: []table.ColumnSchema{{Name: "a", Type: table.KindInt, Nullable: false}}}

	rep, sink, err := convertString(t, "a\n1\nNA\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.RowsProcessed)
	assert.Equal(t, int64(1), rep.RowsRejected)
	assert.Equal(t, [][]any{{int64(1)}}, sink.rows())
}

func TestRowCountInvariant(t *testing.T) {
	inputs := []string{
		"a,b\n1,2\n",
		"a,b\n1,2\n3\n4,5,6\n",
		"a,b\n1,\"x\"y\n2,3\n",
		"a\n",
		"a,b\n1,x\n2,3\n",
	}
	for _, policy := range []OnError{OnErrorFail, OnErrorSkip, OnErrorNull} {
		for i, in := range inputs {
			t.Run(fmt.Sprintf("%s/%d", policy, i), func(t *testing.T) {
				opts := DefaultOptions()
				opts.OnError = policy
				opts.SampleRows = 1
				// convertString checks the invariant
				_, _, _ = convertString(t, in, opts)
			})
		}
	}
}

func TestParseErrorIsMalformedRow(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorSkip
	rep, sink, err := convertString(t, "a,b\n1,\"x\"y\n2,3\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.RowsRejected)
	assert.Equal(t, "unparseable record", rep.Errors[0].Reason)
	assert.Equal(t, [][]any{{int64(2), int64(3)}}, sink.rows())
}

func TestHeaderOnly(t *testing.T) {
	rep, sink, err := convertString(t, "a,b\n", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, rep.Status)
	assert.Equal(t, "a:string, b:string", sink.schema.String())
	assert.True(t, sink.closed)
	assert.Empty(t, sink.batches)
	assert.Zero(t, rep.Batches)
}

func TestEmptyInput(t *testing.T) {
	_, sink, err := convertString(t, "", DefaultOptions())
	var sc *SchemaConflictError
	require.True(t, errors.As(err, &sc))
	assert.True(t, sink.aborted)

	opts := DefaultOptions()
	opts.Schema = &table.Schema{Columns: []table.ColumnSchema{{Name: "a", Type: table.KindInt, Nullable: true}}}
	rep, sink, err := convertString(t, "", opts)
	require.NoError(t, err)
	assert.True(t, sink.closed)
	assert.Equal(t, *opts.Schema, rep.Schema)
}

func TestBatching(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	opts := DefaultOptions()
	opts.BatchSize = 10
	opts.SampleRows = 5

	rep, sink, err := convertString(t, b.String(), opts)
	require.NoError(t, err)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 10)
	assert.Len(t, sink.batches[1], 10)
	assert.Len(t, sink.batches[2], 5)
	assert.Equal(t, 3, rep.Batches)
	assert.Equal(t, int64(24), sink.batches[2][4][0])
}

func TestHeaderNames(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "col_1", "a_1", "b", "a_2"},
		headerNames([]string{"\ufeffa", "  ", "a", "b", "a"}))
}

func TestDeclaredSchema(t *testing.T) {
	ab := func(a, b table.Kind) *table.Schema {
		return &table.Schema{Columns: []table.ColumnSchema{
			{Name: "a", Type: a, Nullable: true},
			{Name: "b", Type: b, Nullable: true},
		}}
	}
	tests := []struct {
		name      string
		in        string
		schema    *table.Schema
		overrides map[string]table.Kind
		wantErr   bool
		conflict  string
	}{
		{name: "width", in: "a\n1\n", schema: ab(table.KindInt, table.KindInt), wantErr: true},
		{name: "names", in: "a,c\n1,2\n", schema: ab(table.KindInt, table.KindInt), wantErr: true, conflict: "b"},
		{name: "kind", in: "a,b\n1,x\n", schema: ab(table.KindInt, table.KindInt), wantErr: true, conflict: "b"},
		{name: "unknown override", in: "a,b\n1,2\n", schema: ab(table.KindInt, table.KindInt), overrides: map[string]table.Kind{"zz": table.KindInt}, wantErr: true, conflict: "zz"},
		{name: "widen", in: "a,b\n1,2\n", schema: ab(table.KindFloat, table.KindString)},
		{name: "all null", in: "a,b\nNA,\n", schema: ab(table.KindInt, table.KindDate)},
		{name: "override wins", in: "a,b\n1,x\n", schema: ab(table.KindInt, table.KindInt), overrides: map[string]table.Kind{"b": table.KindString}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Schema = tt.schema
			opts.TypeOverrides = tt.overrides
			rep, sink, err := convertString(t, tt.in, opts)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.True(t, sink.closed)
				assert.Equal(t, int64(1), rep.RowsProcessed)
				return
			}
			var sc *SchemaConflictError
			require.True(t, errors.As(err, &sc), "got %v", err)
			assert.Equal(t, tt.conflict, sc.Column)
			assert.True(t, sink.aborted)
			assert.False(t, sink.begun)
		})
	}
}

func TestDeclaredSchemaKeepsWideningTypes(t *testing.T) {
	opts := DefaultOptions()
	opts.Schema = &table.Schema{Columns: []table.ColumnSchema{
		{Name: "a", Type: table.KindFloat, Nullable: true},
		{Name: "b", Type: table.KindString, Nullable: true},
	}}
	_, sink, err := convertString(t, "a,b\n1,2\n", opts)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{1.0, "2"}}, sink.rows())
}

func TestCancelBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memSink{}
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	rep, err := c.Convert(ctx, strings.NewReader("a\n1\n"), sink)
	require.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCanceled, rep.Status)
	assert.False(t, sink.begun)
	assert.False(t, sink.aborted)
}

func TestCancelMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &memSink{onBatch: cancel}
	opts := DefaultOptions()
	opts.BatchSize = 1

	c, err := New(opts)
	require.NoError(t, err)
	rep, err := c.Convert(ctx, strings.NewReader("a\n1\n2\n3\n4\n"), sink)
	require.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, StatusCanceled, rep.Status)
	assert.Equal(t, 1, rep.Batches)
	assert.Equal(t, int64(1), rep.RowsTotal)
	assert.Equal(t, rep.RowsTotal, rep.RowsProcessed+rep.RowsRejected)
	assert.False(t, sink.closed, "canceled output is not finalized")
	assert.False(t, sink.aborted, "canceled output is left to the caller")
}

func TestWriteFailureAbortsSink(t *testing.T) {
	sink := &memSink{failWrite: errors.New("disk full")}
	rep, err := Convert(context.Background(), strings.NewReader("a\n1\n"), sink, DefaultOptions())
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "write batch", ioe.Op)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.True(t, sink.aborted)
}

func TestReadFailureIsIOError(t *testing.T) {
	in := io.MultiReader(strings.NewReader("a\n1\n"), iotest.ErrReader(errors.New("device gone")))
	sink := &memSink{}
	rep, err := Convert(context.Background(), in, sink, DefaultOptions())
	var ioe *IOError
	require.True(t, errors.As(err, &ioe))
	assert.Equal(t, "read input", ioe.Op)
	assert.Contains(t, rep.Summary(), "device gone")
	assert.True(t, sink.aborted)
}

func TestOptionsValidation(t *testing.T) {
	mut := []func(*Options){
		func(o *Options) { o.BatchSize = 0 },
		func(o *Options) { o.SampleRows = -1 },
		func(o *Options) { o.OnError = "maybe" },
		func(o *Options) { o.Delimiter = '"' },
		func(o *Options) { o.Comment = ',' },
		func(o *Options) { o.Schema = &table.Schema{} },
	}
	for i, m := range mut {
		opts := DefaultOptions()
		m(&opts)
		_, err := New(opts)
		var oe *OptionsError
		assert.True(t, errors.As(err, &oe), "case %d: %v", i, err)
	}

	opts := DefaultOptions()
	opts.BatchSize = -5
	rep, err := Convert(context.Background(), strings.NewReader(""), &memSink{}, opts)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, rep.Status)
}

func TestParseOnError(t *testing.T) {
	for in, want := range map[string]OnError{"": OnErrorFail, "fail": OnErrorFail, " Skip ": OnErrorSkip, "NULL": OnErrorNull} {
		got, err := ParseOnError(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOnError("explode")
	var oe *OptionsError
	assert.True(t, errors.As(err, &oe))
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, ',', opts.Delimiter)
	assert.True(t, opts.HasHeader)
	assert.Equal(t, 10000, opts.BatchSize)
	assert.Equal(t, 1000, opts.SampleRows)
	assert.Equal(t, OnErrorFail, opts.OnError)
	assert.NotEmpty(t, opts.NullTokens)
}

func TestConverterIsReusable(t *testing.T) {
	c, err := New(DefaultOptions(), WithLogger(nil))
	require.NoError(t, err)
	for _, in := range []string{"a\n1\n2\n", "b,c\nx,true\n"} {
		sink := &memSink{}
		rep, err := c.Convert(context.Background(), strings.NewReader(in), sink)
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, rep.Status)
		assert.Equal(t, int64(len(sink.rows())), rep.RowsProcessed)
	}
}

func TestMaxErrorsCapsDetails(t *testing.T) {
	opts := DefaultOptions()
	opts.OnError = OnErrorSkip
	opts.MaxErrors = 2
	opts.SampleRows = 1
	rep, _, err := convertString(t, "a\n1\nx\ny\nz\n", opts)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.ErrorCount)
	assert.Len(t, rep.Errors, 2)
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	opts := DefaultOptions()
	opts.BatchSize = 1
	_, _, err := convertString(t, "a\n1\n2\n", opts, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("schema locked").Len())
	assert.Equal(t, 2, logs.FilterMessage("batch flushed").Len())
	assert.Equal(t, 1, logs.FilterMessage("conversion finished").Len())
}

func TestSummary(t *testing.T) {
	r := &Report{Status: StatusCompletedWithRejection, RowsTotal: 2, RowsProcessed: 1, RowsRejected: 1, Batches: 1}
	assert.Equal(t, "completed_with_rejections: 1 rows processed, 1 rejected (2 total, 1 batches, 0s)", r.Summary())
}

type discardSink struct{}

func (discardSink) Begin(table.Schema) error      { return nil }
func (discardSink) WriteBatch(*table.Frame) error { return nil }
func (discardSink) Close() error                  { return nil }
func (discardSink) Abort() error                  { return nil }

func BenchmarkConvert(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("id,price,name,day\n")
	for i := 0; i < 10000; i++ {
		fmt.Fprintf(&sb, "%d,%d.25,item%d,2024-01-%02d\n", i, i, i%50, i%28+1)
	}
	data := sb.String()
	c, err := New(DefaultOptions())
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := c.Convert(context.Background(), strings.NewReader(data), discardSink{}); err != nil {
			b.Fatal(err)
		}
	}
}
