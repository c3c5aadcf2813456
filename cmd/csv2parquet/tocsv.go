package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wdm0006/csv2parquet/pkg/config"
	"github.com/wdm0006/csv2parquet/pkg/convert"
	"github.com/wdm0006/csv2parquet/pkg/io/csvio"
	"github.com/wdm0006/csv2parquet/pkg/io/ioutils"
	"github.com/wdm0006/csv2parquet/pkg/io/parquetio"
)

func newToCSVCmd() *cobra.Command {
	var (
		delimiter string
		nullValue string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "to-csv <input.parquet> <output.csv>",
		Short: "Export a Parquet file as delimited text",
		Long: `to-csv streams a Parquet file back to delimited text with a header row.
An output path ending in .gz or .zst is compressed; "-" writes to stdout.`,
		Args: argsUsage(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, auto, err := config.ParseDelimiter(delimiter)
			if err != nil || auto {
				return usageErr(fmt.Errorf("--delimiter %q: want a single character or tab", delimiter))
			}
			if batchSize <= 0 {
				return usageErr(errors.New("--batch-size must be greater than zero"))
			}

			r, err := parquetio.OpenReader(args[0], batchSize)
			if err != nil {
				return &convert.IOError{Op: "open input", Err: err}
			}
			defer func() { _ = r.Close() }()

			outPath := args[1]
			var w io.WriteCloser = nopCloser{cmd.OutOrStdout()}
			if outPath != "-" {
				if w, err = ioutils.CreateMaybeCompressed(outPath); err != nil {
					return &convert.IOError{Op: "create output", Err: err}
				}
			}

			sw := csvio.NewStreamWriter(w, r.Schema(), csvio.WriterOptions{Delimiter: d, NullValue: nullValue})
			n, err := convert.Export(cmd.Context(), r, sw)
			if err != nil {
				if outPath != "-" {
					_ = os.Remove(outPath)
				}
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows from %s to %s\n", n, args[0], outPath)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&delimiter, "delimiter", "d", ",", `field delimiter: a character or "tab"`)
	f.StringVar(&nullValue, "null-value", "", "text written for null cells")
	f.IntVar(&batchSize, "batch-size", 8192, "rows read per chunk")
	return cmd
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
