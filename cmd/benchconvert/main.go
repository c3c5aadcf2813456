// Command benchconvert measures conversion throughput on synthetic input.
//
// It generates a CSV stream in memory with a configurable share of missing
// and unparseable cells, converts it to Parquet (discarded unless --out is
// given) and prints rows/sec and allocation figures.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/wdm0006/csv2parquet/pkg/convert"
	"github.com/wdm0006/csv2parquet/pkg/io/parquetio"
	"github.com/wdm0006/csv2parquet/pkg/table"
)

type genConfig struct {
	Rows       int     `json:"rows"`
	FloatCols  int     `json:"float_cols"`
	IntCols    int     `json:"int_cols"`
	StringCols int     `json:"string_cols"`
	Missing    float64 `json:"missing_prob"`
	Dirty      float64 `json:"dirty_prob"`
	Seed       int64   `json:"seed"`
}

func (g genConfig) schema() table.Schema {
	var cols []table.ColumnSchema
	add := func(prefix string, n int, k table.Kind) {
		for i := 0; i < n; i++ {
			cols = append(cols, table.ColumnSchema{Name: prefix + strconv.Itoa(i), Type: k, Nullable: true})
		}
	}
	add("f", g.FloatCols, table.KindFloat)
	add("i", g.IntCols, table.KindInt)
	add("s", g.StringCols, table.KindString)
	return table.Schema{Columns: cols}
}

// generate writes a header plus g.Rows data rows. Numeric cells are left
// empty with probability Missing and replaced by garbage with probability
// Dirty.
func generate(w io.Writer, g genConfig) error {
	bw := bufio.NewWriterSize(w, 64<<10)
	rnd := rand.New(rand.NewSource(g.Seed))
	s := g.schema()
	for i, c := range s.Columns {
		if i > 0 {
			_ = bw.WriteByte(',')
		}
		_, _ = bw.WriteString(c.Name)
	}
	_ = bw.WriteByte('\n')

	var buf []byte
	for r := 0; r < g.Rows; r++ {
		buf = buf[:0]
		for i, c := range s.Columns {
			if i > 0 {
				buf = append(buf, ',')
			}
			p := rnd.Float64()
			switch {
			case p < g.Missing:
			case c.Type != table.KindString && p < g.Missing+g.Dirty:
				buf = append(buf, "n/a?"...)
			case c.Type == table.KindFloat:
				buf = strconv.AppendFloat(buf, rnd.Float64()*100, 'f', 3, 64)
			case c.Type == table.KindInt:
				buf = strconv.AppendInt(buf, int64(rnd.Intn(100000)), 10)
			default:
				buf = append(buf, "alpha"...)
				buf = strconv.AppendInt(buf, int64(rnd.Intn(50)), 10)
			}
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

type summary struct {
	Config        genConfig `json:"config"`
	OnError       string    `json:"on_error"`
	BatchSize     int       `json:"batch_size"`
	Compression   string    `json:"compression"`
	RowsProcessed int64     `json:"rows_processed"`
	RowsRejected  int64     `json:"rows_rejected"`
	RowsNulled    int64     `json:"rows_nulled"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	RowsPerSec    float64   `json:"rows_per_sec"`
	TotalAlloc    uint64    `json:"mem_total_alloc_bytes"`
	NumGC         uint32    `json:"gc_num"`
}

func newRootCmd() *cobra.Command {
	var (
		g           genConfig
		onError     string
		batchSize   int
		compression string
		out         string
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:           "benchconvert",
		Short:         "Benchmark CSV to Parquet conversion on generated data",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := convert.ParseOnError(onError)
			if err != nil {
				return err
			}
			opts := convert.DefaultOptions()
			opts.OnError = policy
			opts.BatchSize = batchSize
			// declared schema keeps dirty cells from widening columns to string
			s := g.schema()
			opts.Schema = &s

			wopt := parquetio.WriterOptions{Compression: compression}
			var sink *parquetio.Sink
			if out == "" {
				sink, err = parquetio.NewWriterSink(io.Discard, wopt)
			} else {
				sink, err = parquetio.NewFileSink(out, wopt)
			}
			if err != nil {
				return err
			}

			pr, pw := io.Pipe()
			go func() { pw.CloseWithError(generate(pw, g)) }()

			runtime.GC()
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			start := time.Now()
			rep, err := convert.Convert(cmd.Context(), pr, sink, opts)
			elapsed := time.Since(start)
			runtime.ReadMemStats(&after)
			_ = pr.Close()
			if err != nil {
				return err
			}

			sum := summary{
				Config:        g,
				OnError:       string(policy),
				BatchSize:     batchSize,
				Compression:   compression,
				RowsProcessed: rep.RowsProcessed,
				RowsRejected:  rep.RowsRejected,
				RowsNulled:    rep.RowsNulled,
				ElapsedMS:     elapsed.Milliseconds(),
				RowsPerSec:    float64(rep.RowsTotal) / elapsed.Seconds(),
				TotalAlloc:    after.TotalAlloc - before.TotalAlloc,
				NumGC:         after.NumGC - before.NumGC,
			}
			w := cmd.OutOrStdout()
			if jsonOut {
				b, err := json.MarshalIndent(sum, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(w, string(b))
				return nil
			}
			fmt.Fprintf(w, "rows=%d processed=%d rejected=%d nulled=%d elapsed=%s rows/sec=%.0f alloc=%.1fMB gc=%d\n",
				g.Rows, sum.RowsProcessed, sum.RowsRejected, sum.RowsNulled, elapsed.Round(time.Millisecond),
				sum.RowsPerSec, float64(sum.TotalAlloc)/(1<<20), sum.NumGC)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&g.Rows, "rows", 1_000_000, "total rows to generate")
	f.IntVar(&g.FloatCols, "float-cols", 4, "number of float columns")
	f.IntVar(&g.IntCols, "int-cols", 2, "number of int columns")
	f.IntVar(&g.StringCols, "string-cols", 2, "number of string columns")
	f.Float64Var(&g.Missing, "missing", 0.05, "probability of an empty cell")
	f.Float64Var(&g.Dirty, "dirty", 0.001, "probability of an unparseable numeric cell")
	f.Int64Var(&g.Seed, "seed", 42, "random seed")
	f.StringVar(&onError, "on-error", "null", "row error policy: fail, skip or null")
	f.IntVar(&batchSize, "batch-size", 10000, "rows per row group")
	f.StringVar(&compression, "compression", "snappy", "parquet codec")
	f.StringVar(&out, "out", "", "write the Parquet file here instead of discarding it")
	f.BoolVar(&jsonOut, "json", false, "emit a JSON summary")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
