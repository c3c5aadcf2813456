package convert

import (
	"fmt"
	"strings"

	"github.com/wdm0006/csv2parquet/pkg/infer"
	"github.com/wdm0006/csv2parquet/pkg/table"
)

// OnError selects what happens to a row that cannot be coerced.
type OnError string

const (
	OnErrorFail OnError = "fail"
	OnErrorSkip OnError = "skip"
	OnErrorNull OnError = "null"
)

// ParseOnError parses a policy name case-insensitively. Empty means fail.
func ParseOnError(s string) (OnError, error) {
	switch p := OnError(strings.ToLower(strings.TrimSpace(s))); p {
	case OnErrorFail, OnErrorSkip, OnErrorNull:
		return p, nil
	case "":
		return OnErrorFail, nil
	}
	return "", &OptionsError{Field: "on_error", Reason: fmt.Sprintf("unknown policy %q (want fail, skip or null)", s)}
}

// Options controls a conversion run. Start from DefaultOptions; the zero
// value disables the header and whitespace trimming and has no valid
// batch size.
type Options struct {
	Delimiter     rune
	HasHeader     bool
	NullTokens    []string
	TypeOverrides map[string]table.Kind
	// Schema, when set, fixes column names and kinds. Samples are still
	// checked against it.
	Schema     *table.Schema
	BatchSize  int
	SampleRows int
	OnError    OnError
	TrimSpace  bool
	LazyQuotes bool
	Comment    rune
	// MaxErrors caps the row issues kept in the report. Negative keeps all.
	MaxErrors int
}

// DefaultOptions returns comma-separated input with a header, the default
// null tokens, 10000-row batches, a 1000-row inference sample and the fail
// policy.
func DefaultOptions() Options {
	return Options{
		Delimiter:  ',',
		HasHeader:  true,
		NullTokens: append([]string(nil), infer.DefaultNullTokens...),
		BatchSize:  10000,
		SampleRows: 1000,
		OnError:    OnErrorFail,
		TrimSpace:  true,
		MaxErrors:  100,
	}
}

func (o Options) validate() error {
	if o.BatchSize <= 0 {
		return &OptionsError{Field: "batch_size", Reason: "must be greater than zero"}
	}
	if o.SampleRows < 0 {
		return &OptionsError{Field: "sample_rows", Reason: "must not be negative"}
	}
	if _, err := ParseOnError(string(o.OnError)); err != nil {
		return err
	}
	switch o.Delimiter {
	case '"', '\r', '\n', 0xFFFD:
		return &OptionsError{Field: "delimiter", Reason: fmt.Sprintf("%q cannot be used as a delimiter", o.Delimiter)}
	}
	if o.Comment != 0 && o.Comment == o.delimiter() {
		return &OptionsError{Field: "comment", Reason: "comment character equals the delimiter"}
	}
	for name, k := range o.TypeOverrides {
		if k == table.KindInvalid {
			return &OptionsError{Field: "type_overrides", Reason: fmt.Sprintf("column %q has no valid type", name)}
		}
	}
	if o.Schema != nil {
		if err := o.Schema.Validate(); err != nil {
			return &OptionsError{Field: "schema", Reason: err.Error()}
		}
	}
	return nil
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}
