// Package infer picks column types from sample rows. Candidates are tried
// from narrowest to widest; a column locks to the first candidate that
// accepted every non-null sample.
package infer

import (
	"strings"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// DefaultNullTokens are treated as missing values when no set is configured.
var DefaultNullTokens = []string{"", "NA", "N/A", "NULL", "null", "NaN", "None", "-"}

type checker struct {
	kind   table.Kind
	accept func(string) bool
}

// candidates is ordered narrowest first. string accepts everything and
// must stay last.
var candidates = []checker{
	{table.KindInt, func(s string) bool { _, ok := ParseInt(s); return ok }},
	{table.KindFloat, func(s string) bool { _, ok := ParseFloat(s); return ok }},
	{table.KindBool, func(s string) bool { _, ok := ParseBool(s); return ok }},
	{table.KindDate, func(s string) bool { _, ok := ParseDate(s); return ok }},
	{table.KindTime, func(s string) bool {
		if _, ok := ParseTime(s); ok {
			return true
		}
		_, ok := ParseDate(s)
		return ok
	}},
	{table.KindString, func(string) bool { return true }},
}

// NullSet is a lookup of null tokens.
type NullSet map[string]struct{}

func NewNullSet(tokens []string) NullSet {
	ns := make(NullSet, len(tokens))
	for _, t := range tokens {
		ns[t] = struct{}{}
	}
	return ns
}

func (ns NullSet) IsNull(s string) bool {
	_, ok := ns[s]
	return ok
}

type columnState struct {
	possible []bool
	seen     int
	nulls    int
}

// Inferencer accumulates per-column candidate state over sample rows.
type Inferencer struct {
	cols      []columnState
	nulls     NullSet
	trimSpace bool
	rows      int
}

func New(width int, nulls NullSet, trimSpace bool) *Inferencer {
	in := &Inferencer{cols: make([]columnState, width), nulls: nulls, trimSpace: trimSpace}
	for i := range in.cols {
		p := make([]bool, len(candidates))
		for j := range p {
			p[j] = true
		}
		in.cols[i].possible = p
	}
	return in
}

// Observe feeds one sample row. Rows of the wrong width are ignored and
// reported as false.
func (in *Inferencer) Observe(row []string) bool {
	if len(row) != len(in.cols) {
		return false
	}
	in.rows++
	for i, raw := range row {
		v := raw
		if in.trimSpace {
			v = strings.TrimSpace(v)
		}
		st := &in.cols[i]
		if in.nulls.IsNull(v) {
			st.nulls++
			continue
		}
		st.seen++
		for j, c := range candidates {
			if st.possible[j] && !c.accept(v) {
				st.possible[j] = false
			}
		}
	}
	return true
}

// Rows is the number of samples observed.
func (in *Inferencer) Rows() int { return in.rows }

// Kind returns the locked kind for column i and whether any non-null
// sample backed the decision.
func (in *Inferencer) Kind(i int) (table.Kind, bool) {
	st := in.cols[i]
	if st.seen == 0 {
		return table.KindString, false
	}
	for j, c := range candidates {
		if st.possible[j] {
			return c.kind, true
		}
	}
	return table.KindString, true
}

// Schema builds the inferred schema for the given column names.
func (in *Inferencer) Schema(names []string) table.Schema {
	s := table.Schema{Columns: make([]table.ColumnSchema, len(names))}
	for i, name := range names {
		k, _ := in.Kind(i)
		s.Columns[i] = table.ColumnSchema{Name: name, Type: k, Nullable: true}
	}
	return s
}

// Assignable reports whether data inferred as kind `inferred` can be stored
// in a column declared as `declared` without losing rows.
func Assignable(declared, inferred table.Kind) bool {
	switch {
	case declared == inferred:
		return true
	case declared == table.KindString:
		return true
	case declared == table.KindFloat && inferred == table.KindInt:
		return true
	case declared == table.KindTime && inferred == table.KindDate:
		return true
	}
	return false
}
