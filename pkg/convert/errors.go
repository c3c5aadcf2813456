package convert

import (
	"errors"
	"fmt"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// ErrCanceled is returned when the context ends before the input does.
var ErrCanceled = errors.New("conversion canceled")

// IOError is a fatal read or write failure. The output is aborted.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// SchemaConflictError reports data that contradicts the locked or declared
// schema. It is fatal; a type override for Column usually resolves it.
type SchemaConflictError struct {
	Column   string
	Declared table.Kind
	Inferred table.Kind
	Reason   string
}

func (e *SchemaConflictError) Error() string {
	if e.Column == "" {
		return "schema conflict: " + e.Reason
	}
	if e.Declared != table.KindInvalid && e.Inferred != table.KindInvalid {
		return fmt.Sprintf("schema conflict on column %q: declared %s, data looks like %s: %s", e.Column, e.Declared, e.Inferred, e.Reason)
	}
	return fmt.Sprintf("schema conflict on column %q: %s", e.Column, e.Reason)
}

// MalformedRowError describes one input row that could not be converted.
// Row is the 1-based data row number; Line is the input line it started on.
type MalformedRowError struct {
	Line   int
	Row    int64
	Column string
	Value  string
	Kind   table.Kind
	Reason string
	Err    error
}

func (e *MalformedRowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("malformed row %d (line %d) column %q: %s", e.Row, e.Line, e.Column, e.Reason)
	}
	return fmt.Sprintf("malformed row %d (line %d): %s", e.Row, e.Line, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

type OptionsError struct {
	Field  string
	Reason string
}

func (e *OptionsError) Error() string { return fmt.Sprintf("invalid option %s: %s", e.Field, e.Reason) }
