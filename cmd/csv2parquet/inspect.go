package main

import (
	"fmt"
	"io"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/wdm0006/csv2parquet/pkg/convert"
	"github.com/wdm0006/csv2parquet/pkg/io/parquetio"
	"github.com/wdm0006/csv2parquet/pkg/profile"
)

type inspectOutput struct {
	*parquetio.FileInfo
	Stats []profile.ColumnStats `json:"stats,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		format    string
		stats     bool
		topValues int
	)
	cmd := &cobra.Command{
		Use:   "inspect <file.parquet>",
		Short: "Show the schema and layout of a Parquet file",
		Args:  argsUsage(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "table" {
				return usageErr(fmt.Errorf("--format %q: want json or table", format))
			}
			info, err := parquetio.Inspect(args[0])
			if err != nil {
				return &convert.IOError{Op: "inspect", Err: err}
			}
			out := inspectOutput{FileInfo: info}
			if stats {
				if out.Stats, err = collectStats(cmd, args[0], topValues); err != nil {
					return err
				}
			}
			if format == "table" {
				writeInspectTable(cmd.OutOrStdout(), out)
				return nil
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&format, "format", "json", "output format: json or table")
	f.BoolVar(&stats, "stats", false, "scan every row and add per-column statistics")
	f.IntVar(&topValues, "top-values", 0, "most frequent values kept per string column with --stats")
	return cmd
}

func collectStats(cmd *cobra.Command, path string, topK int) ([]profile.ColumnStats, error) {
	r, err := parquetio.OpenReader(path, 0)
	if err != nil {
		return nil, &convert.IOError{Op: "open input", Err: err}
	}
	defer func() { _ = r.Close() }()
	c := profile.NewCollector(r.Schema(), topK)
	for {
		if err := cmd.Context().Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", convert.ErrCanceled, err)
		}
		f, err := r.Next()
		if err == io.EOF {
			return c.Stats(), nil
		}
		if err != nil {
			return nil, &convert.IOError{Op: "read frame", Err: err}
		}
		c.ConsumeFrame(f)
	}
}

func writeInspectTable(w io.Writer, out inspectOutput) {
	fmt.Fprintf(w, "%s: %d rows in %d row groups, codec %s, created by %s\n",
		out.Path, out.Rows, out.RowGroups, out.Codec, out.CreatedBy)

	byName := make(map[string]profile.ColumnStats, len(out.Stats))
	for _, st := range out.Stats {
		byName[st.Name] = st
	}
	header := []string{"column", "kind", "physical", "nullable"}
	if len(out.Stats) > 0 {
		header = append(header, "count", "nulls", "min", "max")
	}
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoFormatHeaders(false)
	for _, c := range out.Columns {
		row := []string{c.Name, c.Kind, c.Physical, strconv.FormatBool(c.Nullable)}
		if st, ok := byName[c.Name]; ok {
			row = append(row, strconv.FormatInt(st.Count, 10), strconv.FormatInt(st.Nulls, 10), st.Min, st.Max)
		}
		tw.Append(row)
	}
	tw.Render()
}
