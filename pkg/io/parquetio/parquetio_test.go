package parquetio

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/writerfile"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

func sampleSchema() table.Schema {
	return table.Schema{Columns: []table.ColumnSchema{
		{Name: "id", Type: table.KindInt, Nullable: true},
		{Name: "unit price", Type: table.KindFloat, Nullable: true},
		{Name: "ok", Type: table.KindBool, Nullable: true},
		{Name: "name", Type: table.KindString, Nullable: true},
		{Name: "day", Type: table.KindDate, Nullable: true},
		{Name: "at", Type: table.KindTime, Nullable: true},
	}}
}

func sampleFrame(t *testing.T, s table.Schema, from, n int) *table.Frame {
	t.Helper()
	f := table.NewFrame(s)
	for i := 0; i < n; i++ {
		f.AppendNullRow()
		id := from + i
		require.NoError(t, f.SetCellAt(i, 0, int64(id)))
		if id%3 != 0 {
			require.NoError(t, f.SetCellAt(i, 1, float64(id)+0.5))
		}
		require.NoError(t, f.SetCellAt(i, 2, id%2 == 0))
		require.NoError(t, f.SetCellAt(i, 3, "n"+string(rune('a'+id%26))))
		require.NoError(t, f.SetCellAt(i, 4, table.Date(19000+id)))
		require.NoError(t, f.SetCellAt(i, 5, time.Date(2024, 1, 1, 0, 0, id, 123456000, time.UTC)))
	}
	return f
}

func writeFile(t *testing.T, path string, s table.Schema, batches ...*table.Frame) {
	t.Helper()
	sink, err := NewFileSink(path, WriterOptions{Metadata: map[string]string{VersionKey: "test"}})
	require.NoError(t, err)
	require.NoError(t, sink.Begin(s))
	for _, b := range batches {
		require.NoError(t, sink.WriteBatch(b))
	}
	require.NoError(t, sink.Close())
}

func readAll(t *testing.T, path string) (table.Schema, [][]any) {
	t.Helper()
	r, err := OpenReader(path, 4)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	var rows [][]any
	for {
		f, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for i := 0; i < f.Rows(); i++ {
			row := make([]any, f.Cols())
			for c := range row {
				row[c] = f.Value(i, c)
			}
			rows = append(rows, row)
		}
	}
	return r.Schema(), rows
}

func TestSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.parquet")
	s := sampleSchema()
	writeFile(t, path, s, sampleFrame(t, s, 0, 5), sampleFrame(t, s, 5, 3))

	got, rows := readAll(t, path)
	assert.Equal(t, s, got, "original names restored from footer")
	require.Len(t, rows, 8)

	assert.Equal(t, int64(0), rows[0][0])
	assert.Nil(t, rows[0][1], "null survives")
	assert.Equal(t, 1.5, rows[1][1])
	assert.Equal(t, true, rows[0][2])
	assert.Equal(t, "na", rows[0][3])
	assert.Equal(t, table.Date(19007), rows[7][4])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 7, 123456000, time.UTC), rows[7][5], "microseconds survive")

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Rows)
	assert.Equal(t, 2, info.RowGroups, "one row group per batch")
	assert.Equal(t, []int64{5, 3}, info.RowGroupRows)
	assert.True(t, info.EmbeddedSchema)
	assert.Equal(t, "test", info.Metadata[VersionKey])
	require.Len(t, info.Columns, 6)
	assert.Equal(t, "unit price", info.Columns[1].Name)
	assert.Equal(t, "float", info.Columns[1].Kind)
}

func TestSinkHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	s := sampleSchema()
	writeFile(t, path, s)

	got, rows := readAll(t, path)
	assert.Equal(t, s, got)
	assert.Empty(t, rows)

	info, err := Inspect(path)
	require.NoError(t, err)
	assert.Zero(t, info.Rows)
}

// wideFrame builds n rows of mixed-length strings so every column spans
// many data and dictionary pages.
func wideFrame(t *testing.T, s table.Schema, from, n int) *table.Frame {
	t.Helper()
	f := table.NewFrameWithCapacity(s, n)
	for i := 0; i < n; i++ {
		id := from + i
		f.AppendNullRow()
		require.NoError(t, f.SetCellAt(i, 0, int64(id)))
		require.NoError(t, f.SetCellAt(i, 1, float64(id%977)/7))
		require.NoError(t, f.SetCellAt(i, 2, id%5 == 0))
		if id%11 != 0 {
			require.NoError(t, f.SetCellAt(i, 3, strings.Repeat("z", id%41)+strconv.Itoa(id%1500)))
		}
		require.NoError(t, f.SetCellAt(i, 4, table.Date(18000+id%400)))
		require.NoError(t, f.SetCellAt(i, 5, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id)*time.Microsecond*1013)))
	}
	return f
}

func TestSinkDeterministic(t *testing.T) {
	dir := t.TempDir()
	s := sampleSchema()
	a := filepath.Join(dir, "a.parquet")
	b := filepath.Join(dir, "b.parquet")
	writeFile(t, a, s, wideFrame(t, s, 0, 30000), wideFrame(t, s, 30000, 30000))
	writeFile(t, b, s, wideFrame(t, s, 0, 30000), wideFrame(t, s, 30000, 30000))

	ab, err := os.ReadFile(a)
	require.NoError(t, err)
	bb, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, len(ab), len(bb))
	assert.True(t, bytes.Equal(ab, bb))

	_, rows := readAll(t, a)
	require.Len(t, rows, 60000)
	assert.Nil(t, rows[0][3])
	assert.Equal(t, strings.Repeat("z", 59999%41)+strconv.Itoa(59999%1500), rows[59999][3])
}

func TestWriterInitErrorIsReturned(t *testing.T) {
	var buf bytes.Buffer
	_, err := newCSVWriter([]string{"name=a, convertedtype=UTF8"}, writerfile.NewWriterFile(&buf), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parquet writer init")
}

func TestColumnTagsParse(t *testing.T) {
	var buf bytes.Buffer
	_, err := newCSVWriter(metadataTags(sampleSchema()), writerfile.NewWriterFile(&buf), 1)
	require.NoError(t, err)
}

func TestSinkAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.parquet")
	s := sampleSchema()
	sink, err := NewFileSink(path, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, sink.Begin(s))
	require.NoError(t, sink.WriteBatch(sampleFrame(t, s, 0, 2)))
	require.NoError(t, sink.Abort())
	require.NoError(t, sink.Close(), "close after abort is a no-op")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSinkWriteBeforeBegin(t *testing.T) {
	sink, err := NewWriterSink(&bytes.Buffer{}, WriterOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, sink.WriteBatch(table.NewFrame(sampleSchema())), errNotStarted)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "snappy", "none", "uncompressed", "gzip", "ZSTD"} {
		_, err := ParseCompression(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}

func TestPhysicalNames(t *testing.T) {
	s := table.Schema{Columns: []table.ColumnSchema{
		{Name: "unit price", Type: table.KindFloat},
		{Name: "Unit_price", Type: table.KindFloat},
		{Name: "1st", Type: table.KindInt},
		{Name: "", Type: table.KindString},
		{Name: "héllo", Type: table.KindString},
	}}
	assert.Equal(t, []string{"unit_price", "Unit_price_1", "c_1st", "col", "h_llo"}, physicalNames(s))
}

func BenchmarkSink(b *testing.B) {
	s := table.Schema{Columns: []table.ColumnSchema{
		{Name: "id", Type: table.KindInt},
		{Name: "v", Type: table.KindFloat},
		{Name: "s", Type: table.KindString},
	}}
	f := table.NewFrameWithCapacity(s, 10000)
	for i := 0; i < 10000; i++ {
		f.AppendNullRow()
		_ = f.SetCellAt(i, 0, int64(i))
		_ = f.SetCellAt(i, 1, float64(i)/3)
		_ = f.SetCellAt(i, 2, "row")
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		sink, err := NewWriterSink(io.Discard, WriterOptions{})
		if err != nil {
			b.Fatal(err)
		}
		if err := sink.Begin(s); err != nil {
			b.Fatal(err)
		}
		if err := sink.WriteBatch(f); err != nil {
			b.Fatal(err)
		}
		if err := sink.Close(); err != nil {
			b.Fatal(err)
		}
	}
}
