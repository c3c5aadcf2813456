// Package config loads conversion settings and declared schemas from JSON,
// YAML or TOML files. The format follows the file extension.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	yaml "gopkg.in/yaml.v3"

	"github.com/wdm0006/csv2parquet/pkg/convert"
	"github.com/wdm0006/csv2parquet/pkg/logger"
	"github.com/wdm0006/csv2parquet/pkg/table"
)

// Error wraps a failure to read or decode a configuration file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type Input struct {
	Path       string   `json:"path" yaml:"path" toml:"path"`
	Delimiter  string   `json:"delimiter" yaml:"delimiter" toml:"delimiter"` // single character, "tab" or "auto"
	HasHeader  *bool    `json:"has_header" yaml:"has_header" toml:"has_header"`
	Encoding   string   `json:"encoding" yaml:"encoding" toml:"encoding"` // auto|utf-8|latin-1|windows-1252
	NullTokens []string `json:"null_tokens" yaml:"null_tokens" toml:"null_tokens"`
	LazyQuotes bool     `json:"lazy_quotes" yaml:"lazy_quotes" toml:"lazy_quotes"`
	Comment    string   `json:"comment" yaml:"comment" toml:"comment"`
}

type Output struct {
	Path        string `json:"path" yaml:"path" toml:"path"`
	Compression string `json:"compression" yaml:"compression" toml:"compression"`
}

type Conversion struct {
	BatchSize  int               `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	SampleRows *int              `json:"sample_rows" yaml:"sample_rows" toml:"sample_rows"`
	OnError    string            `json:"on_error" yaml:"on_error" toml:"on_error"`
	TrimSpace  *bool             `json:"trim_space" yaml:"trim_space" toml:"trim_space"`
	MaxErrors  *int              `json:"max_errors" yaml:"max_errors" toml:"max_errors"`
	Types      map[string]string `json:"types" yaml:"types" toml:"types"`
	// SchemaFile is resolved relative to the config file.
	SchemaFile string        `json:"schema_file" yaml:"schema_file" toml:"schema_file"`
	Schema     *table.Schema `json:"schema" yaml:"schema" toml:"schema"`
}

type Config struct {
	Input       Input         `json:"input" yaml:"input" toml:"input"`
	Output      Output        `json:"output" yaml:"output" toml:"output"`
	Conversion  Conversion    `json:"conversion" yaml:"conversion" toml:"conversion"`
	Log         logger.Config `json:"log" yaml:"log" toml:"log"`
	MetricsFile string        `json:"metrics_file" yaml:"metrics_file" toml:"metrics_file"`
}

func unmarshalByExt(path string, b []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Unmarshal(b, v)
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, v)
	case ".toml":
		return toml.Unmarshal(b, v)
	}
	return fmt.Errorf("unsupported extension %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	var cfg Config
	if err := unmarshalByExt(path, b, &cfg); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if cfg.Conversion.SchemaFile != "" && !filepath.IsAbs(cfg.Conversion.SchemaFile) {
		cfg.Conversion.SchemaFile = filepath.Join(filepath.Dir(path), cfg.Conversion.SchemaFile)
	}
	return &cfg, nil
}

// LoadSchema reads a declared schema of the form
//
//	columns:
//	  - {name: id, type: int, nullable: false}
func LoadSchema(path string) (*table.Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	var s table.Schema
	if err := unmarshalByExt(path, b, &s); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return &s, nil
}

// ParseDelimiter accepts a single character, an escape such as `\t`, a name
// (comma, tab, semicolon, pipe) or "auto". auto is reported separately and
// returns ','.
func ParseDelimiter(s string) (r rune, auto bool, err error) {
	switch strings.ToLower(s) {
	case "", "comma", ",":
		return ',', false, nil
	case "auto":
		return ',', true, nil
	case "tab", `\t`, "\t":
		return '\t', false, nil
	case "semicolon":
		return ';', false, nil
	case "pipe":
		return '|', false, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, false, fmt.Errorf("delimiter %q must be a single character", s)
	}
	r, _ = utf8.DecodeRuneInString(s)
	return r, false, nil
}

// AutoDelimiter reports whether the delimiter should be sniffed from the input.
func (c *Config) AutoDelimiter() bool {
	_, auto, _ := ParseDelimiter(c.Input.Delimiter)
	return auto
}

// Options builds converter options on top of convert.DefaultOptions. The
// declared schema comes from Conversion.Schema or, failing that,
// Conversion.SchemaFile.
func (c *Config) Options() (convert.Options, error) {
	o := convert.DefaultOptions()
	d, _, err := ParseDelimiter(c.Input.Delimiter)
	if err != nil {
		return o, &convert.OptionsError{Field: "delimiter", Reason: err.Error()}
	}
	o.Delimiter = d
	if c.Input.HasHeader != nil {
		o.HasHeader = *c.Input.HasHeader
	}
	if c.Input.NullTokens != nil {
		o.NullTokens = c.Input.NullTokens
	}
	o.LazyQuotes = c.Input.LazyQuotes
	if c.Input.Comment != "" {
		r, n := utf8.DecodeRuneInString(c.Input.Comment)
		if n != len(c.Input.Comment) {
			return o, &convert.OptionsError{Field: "comment", Reason: "must be a single character"}
		}
		o.Comment = r
	}

	cv := c.Conversion
	if cv.BatchSize != 0 {
		o.BatchSize = cv.BatchSize
	}
	if cv.SampleRows != nil {
		o.SampleRows = *cv.SampleRows
	}
	if cv.OnError != "" {
		p, err := convert.ParseOnError(cv.OnError)
		if err != nil {
			return o, err
		}
		o.OnError = p
	}
	if cv.TrimSpace != nil {
		o.TrimSpace = *cv.TrimSpace
	}
	if cv.MaxErrors != nil {
		o.MaxErrors = *cv.MaxErrors
	}
	if len(cv.Types) > 0 {
		o.TypeOverrides = make(map[string]table.Kind, len(cv.Types))
		for col, name := range cv.Types {
			k, err := table.ParseKind(name)
			if err != nil {
				return o, &convert.OptionsError{Field: "types", Reason: fmt.Sprintf("column %q: %v", col, err)}
			}
			o.TypeOverrides[col] = k
		}
	}
	switch {
	case cv.Schema != nil:
		if err := cv.Schema.Validate(); err != nil {
			return o, &convert.OptionsError{Field: "schema", Reason: err.Error()}
		}
		o.Schema = cv.Schema
	case cv.SchemaFile != "":
		s, err := LoadSchema(cv.SchemaFile)
		if err != nil {
			return o, err
		}
		o.Schema = s
	}
	return o, nil
}
