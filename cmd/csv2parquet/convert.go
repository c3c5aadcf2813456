package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wdm0006/csv2parquet/pkg/config"
	"github.com/wdm0006/csv2parquet/pkg/convert"
	"github.com/wdm0006/csv2parquet/pkg/io/csvio"
	"github.com/wdm0006/csv2parquet/pkg/io/ioutils"
	"github.com/wdm0006/csv2parquet/pkg/io/parquetio"
	"github.com/wdm0006/csv2parquet/pkg/logger"
	"github.com/wdm0006/csv2parquet/pkg/metrics"
	"github.com/wdm0006/csv2parquet/pkg/profile"
)

type convertFlags struct {
	configPath  string
	delimiter   string
	noHeader    bool
	nulls       []string
	types       []string
	schemaFile  string
	batchSize   int
	sampleRows  int
	onError     string
	maxErrors   int
	compression string
	encoding    string
	lazyQuotes  bool
	report      string
	topValues   int
	metricsFile string
	logLevel    string
	logFormat   string
}

func newConvertCmd() *cobra.Command {
	var fl convertFlags
	cmd := &cobra.Command{
		Use:   "convert <input> <output>",
		Short: "Convert a delimited text file to Parquet",
		Long: `Convert reads a delimited text file (optionally gzip, zstd, bzip2, xz, lz4,
zip or tar compressed), infers or checks the column types, and writes a Parquet
file. Use "-" for stdin or stdout; --report needs a file output.

Column types are inferred from the first --sample-rows records (1000 by
default). A value such as "bad" inside that window turns the column into a
string column instead of rejecting the row. For strict typing raise
--sample-rows, pass --type col=kind or declare the types with --schema; rows
after the window that do not fit are then handled by --on-error.

Exit status is 0 on success, 3 when rows were skipped with --on-error=skip,
2 for usage errors, 130 when interrupted and 1 for any other failure.`,
		Example: `  csv2parquet convert sales.csv.gz sales.parquet --type amount=float --on-error skip
  csv2parquet convert --config job.yaml`,
		Args: argsUsage(cobra.MaximumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args, &fl)
		},
	}
	f := cmd.Flags()
	f.StringVar(&fl.configPath, "config", "", "config file (.json, .yaml or .toml)")
	f.StringVarP(&fl.delimiter, "delimiter", "d", ",", `field delimiter: a character, "tab" or "auto"`)
	f.BoolVar(&fl.noHeader, "no-header", false, "first record is data; columns are named col_0, col_1, ...")
	f.StringArrayVar(&fl.nulls, "null", nil, "token treated as null (repeatable, replaces the defaults)")
	f.StringArrayVarP(&fl.types, "type", "t", nil, "column type override col=kind (repeatable)")
	f.StringVar(&fl.schemaFile, "schema", "", "declared schema file (.json, .yaml or .toml)")
	f.IntVar(&fl.batchSize, "batch-size", 10000, "rows per row group")
	f.IntVar(&fl.sampleRows, "sample-rows", 1000, "rows used for type inference")
	f.StringVar(&fl.onError, "on-error", "fail", "row error policy: fail, skip or null")
	f.IntVar(&fl.maxErrors, "max-errors", 100, "row issues kept in the report, -1 keeps all")
	f.StringVar(&fl.compression, "compression", "snappy", "parquet codec: snappy, gzip, zstd or uncompressed")
	f.StringVar(&fl.encoding, "encoding", "auto", "input encoding: auto, utf-8, latin-1 or windows-1252")
	f.BoolVar(&fl.lazyQuotes, "lazy-quotes", false, "accept bare quotes inside fields")
	f.StringVar(&fl.report, "report", "", "print the full report to stdout: json or text")
	f.IntVar(&fl.topValues, "top-values", 0, "most frequent values kept per string column in the report")
	f.StringVar(&fl.metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format")
	f.StringVar(&fl.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVar(&fl.logFormat, "log-format", "console", "log encoding: console or json")
	return cmd
}

// loadConfig merges the config file with the flags that were set explicitly.
func loadConfig(cmd *cobra.Command, args []string, fl *convertFlags) (*config.Config, error) {
	cfg := &config.Config{}
	if fl.configPath != "" {
		c, err := config.Load(fl.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	set := cmd.Flags().Changed
	if len(args) > 0 {
		cfg.Input.Path = args[0]
	}
	if len(args) > 1 {
		cfg.Output.Path = args[1]
	}
	if cfg.Input.Path == "" || cfg.Output.Path == "" {
		return nil, usageErr(errors.New("convert needs an input and an output path"))
	}
	switch fl.report {
	case "", "json", "text":
	default:
		return nil, usageErr(fmt.Errorf("--report %q: want json or text", fl.report))
	}
	if cfg.Output.Path == "-" && fl.report != "" {
		return nil, usageErr(errors.New("--report cannot be used when the Parquet output goes to stdout"))
	}

	if set("delimiter") || cfg.Input.Delimiter == "" {
		cfg.Input.Delimiter = fl.delimiter
	}
	if set("no-header") {
		h := !fl.noHeader
		cfg.Input.HasHeader = &h
	}
	if set("null") {
		cfg.Input.NullTokens = fl.nulls
	}
	if set("encoding") || cfg.Input.Encoding == "" {
		cfg.Input.Encoding = fl.encoding
	}
	if set("lazy-quotes") {
		cfg.Input.LazyQuotes = fl.lazyQuotes
	}
	if set("type") {
		if cfg.Conversion.Types == nil {
			cfg.Conversion.Types = make(map[string]string)
		}
		for _, t := range fl.types {
			col, kind, ok := strings.Cut(t, "=")
			if !ok || col == "" {
				return nil, usageErr(fmt.Errorf("--type %q: want col=kind", t))
			}
			cfg.Conversion.Types[col] = kind
		}
	}
	if set("schema") {
		cfg.Conversion.SchemaFile = fl.schemaFile
		cfg.Conversion.Schema = nil
	}
	if set("batch-size") {
		if fl.batchSize <= 0 {
			return nil, usageErr(errors.New("--batch-size must be greater than zero"))
		}
		cfg.Conversion.BatchSize = fl.batchSize
	}
	if set("sample-rows") {
		cfg.Conversion.SampleRows = &fl.sampleRows
	}
	if set("on-error") {
		cfg.Conversion.OnError = fl.onError
	}
	if set("max-errors") {
		cfg.Conversion.MaxErrors = &fl.maxErrors
	}
	if set("compression") || cfg.Output.Compression == "" {
		cfg.Output.Compression = fl.compression
	}
	if set("metrics-file") {
		cfg.MetricsFile = fl.metricsFile
	}
	if set("log-level") || cfg.Log.Level == "" {
		cfg.Log.Level = fl.logLevel
	}
	if set("log-format") || cfg.Log.Encoding == "" {
		cfg.Log.Encoding = fl.logFormat
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stderr"}
	}
	return cfg, nil
}

func runConvert(cmd *cobra.Command, args []string, fl *convertFlags) error {
	stderr := cmd.ErrOrStderr()
	// every path out of here prints a summary line
	fail := func(err error) error {
		rep := &convert.Report{Status: convert.StatusFailed, Error: err.Error()}
		fmt.Fprintln(stderr, rep.Summary())
		return &exitError{code: exitCode(err), err: nil}
	}

	cfg, err := loadConfig(cmd, args, fl)
	if err != nil {
		return fail(err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fail(usageErr(err))
	}
	defer func() { _ = log.Sync() }()
	opts, err := cfg.Options()
	if err != nil {
		return fail(err)
	}
	if _, err := parquetio.ParseCompression(cfg.Output.Compression); err != nil {
		return fail(usageErr(err))
	}

	in, err := ioutils.OpenMaybeCompressed(cfg.Input.Path)
	if err != nil {
		return fail(&convert.IOError{Op: "open input", Err: err})
	}
	defer func() { _ = in.Close() }()
	text, enc, err := ioutils.DecodeText(in, cfg.Input.Encoding)
	if err != nil {
		return fail(usageErr(err))
	}
	var src io.Reader = text
	if cfg.AutoDelimiter() {
		opts.Delimiter, src = csvio.SniffReader(text)
		log.Info("delimiter detected", zap.String("delimiter", string(opts.Delimiter)))
	}
	log.Debug("input opened", zap.String("path", cfg.Input.Path), zap.String("encoding", enc))

	var rec *metrics.Recorder
	if cfg.MetricsFile != "" {
		rec = metrics.New()
	}
	conv, err := convert.New(opts,
		convert.WithLogger(log),
		convert.WithMetrics(rec),
		convert.WithTopValues(fl.topValues),
	)
	if err != nil {
		return fail(err)
	}

	wopt := parquetio.WriterOptions{
		Compression: cfg.Output.Compression,
		Metadata:    map[string]string{parquetio.VersionKey: version},
	}
	var sink *parquetio.Sink
	if cfg.Output.Path == "-" {
		sink, err = parquetio.NewWriterSink(cmd.OutOrStdout(), wopt)
	} else {
		sink, err = parquetio.NewFileSink(cfg.Output.Path, wopt)
	}
	if err != nil {
		return fail(&convert.IOError{Op: "create output", Err: err})
	}

	rep, err := conv.Convert(cmd.Context(), src, sink)
	if errors.Is(err, convert.ErrCanceled) {
		// an interrupted run never publishes a partial file
		_ = sink.Abort()
	}
	fmt.Fprintln(stderr, rep.Summary())

	switch fl.report {
	case "":
	case "json":
		b, jerr := json.MarshalIndent(rep, "", "  ")
		if jerr != nil {
			return jerr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
	case "text":
		writeTextReport(cmd.OutOrStdout(), rep)
	}

	if cfg.MetricsFile != "" {
		if merr := rec.WriteTextfile(cfg.MetricsFile); merr != nil {
			log.Warn("write metrics", zap.String("path", cfg.MetricsFile), zap.Error(merr))
		}
	}

	if err != nil {
		return &exitError{code: exitCode(err), err: err}
	}
	if rep.RowsRejected > 0 && opts.OnError == convert.OnErrorSkip {
		return &exitError{code: exitRejected}
	}
	return nil
}

func writeTextReport(w io.Writer, rep *convert.Report) {
	fmt.Fprintf(w, "run %s: %s\n", rep.RunID, rep.Summary())
	fmt.Fprintf(w, "schema: %s\n", rep.Schema)
	if len(rep.Columns) > 0 {
		fmt.Fprint(w, profile.ReportText(rep.Columns))
	}
	for _, is := range rep.Errors {
		fmt.Fprintf(w, "row %d (line %d) %s: %s", is.Row, is.Line, is.Action, is.Reason)
		if is.Column != "" {
			fmt.Fprintf(w, " [column %s value %q]", is.Column, is.Value)
		}
		fmt.Fprintln(w)
	}
	if n := rep.ErrorCount - int64(len(rep.Errors)); n > 0 {
		fmt.Fprintf(w, "... %d more issues not shown\n", n)
	}
}
