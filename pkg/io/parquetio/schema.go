package parquetio

import (
	"fmt"
	"strings"
	"unicode"

	json "github.com/goccy/go-json"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// Footer key-value metadata keys.
const (
	SchemaKey  = "csv2parquet.schema"
	VersionKey = "csv2parquet.version"
)

// columnTag renders the parquet-go metadata tag for one column. Every column
// is OPTIONAL so nulls survive regardless of the declared nullability.
func columnTag(name string, k table.Kind) string {
	var typ string
	switch k {
	case table.KindInt:
		typ = "type=INT64"
	case table.KindFloat:
		typ = "type=DOUBLE"
	case table.KindBool:
		typ = "type=BOOLEAN"
	case table.KindDate:
		typ = "type=DATE"
	case table.KindTime:
		typ = "type=TIMESTAMP_MICROS"
	default:
		typ = "type=UTF8, encoding=PLAIN_DICTIONARY"
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", name, typ)
}

func metadataTags(s table.Schema) []string {
	names := physicalNames(s)
	md := make([]string, len(s.Columns))
	for i, cs := range s.Columns {
		md[i] = columnTag(names[i], cs.Type)
	}
	return md
}

// physicalNames maps column names onto identifiers the parquet-go tag
// parser accepts. The writer derives Go-style field names by upper-casing
// the first letter, so uniqueness is checked case-insensitively. The
// original names travel in the footer under SchemaKey.
func physicalNames(s table.Schema) []string {
	out := make([]string, len(s.Columns))
	used := make(map[string]struct{}, len(s.Columns))
	for i, cs := range s.Columns {
		base := sanitizeName(cs.Name)
		name := base
		for n := 1; ; n++ {
			if _, taken := used[strings.ToLower(name)]; !taken {
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = struct{}{}
		out[i] = name
	}
	return out
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	s := b.String()
	if s == "" {
		return "col"
	}
	if c := s[0]; !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		s = "c_" + s
	}
	return s
}

func encodeSchema(s table.Schema) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode schema metadata: %w", err)
	}
	return string(b), nil
}

func decodeSchema(v string) (table.Schema, error) {
	var s table.Schema
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return table.Schema{}, fmt.Errorf("decode schema metadata: %w", err)
	}
	if err := s.Validate(); err != nil {
		return table.Schema{}, fmt.Errorf("decode schema metadata: %w", err)
	}
	return s, nil
}
