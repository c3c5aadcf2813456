package table

import (
	"fmt"
	"strings"
)

// Schema describes the logical shape of a dataset. A locked Schema is
// treated as read-only; callers that need to change it take a Clone.
type Schema struct {
	Columns []ColumnSchema `json:"columns" yaml:"columns" toml:"columns"`
}

type ColumnSchema struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Type     Kind   `json:"type" yaml:"type" toml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable" toml:"nullable"`
}

// Kind enumerates supported logical types.
type Kind int

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindDate
)

var kindNames = map[Kind]string{
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindTime:   "timestamp",
	KindDate:   "date",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "invalid"
}

// ParseKind maps a type name (case-insensitive, with common aliases) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return KindBool, nil
	case "int", "integer", "int64", "long":
		return KindInt, nil
	case "float", "double", "float64", "number":
		return KindFloat, nil
	case "string", "str", "text", "utf8":
		return KindString, nil
	case "timestamp", "datetime", "time":
		return KindTime, nil
	case "date":
		return KindDate, nil
	}
	return KindInvalid, fmt.Errorf("unknown column type %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if k == KindInvalid {
		return nil, fmt.Errorf("cannot marshal invalid kind")
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, cs := range s.Columns {
		out[i] = cs.Name
	}
	return out
}

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, cs := range s.Columns {
		if cs.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Clone() Schema {
	out := Schema{Columns: make([]ColumnSchema, len(s.Columns))}
	copy(out.Columns, s.Columns)
	return out
}

// Validate checks that names are present and unique and every kind is known.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("schema has no columns")
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for i, cs := range s.Columns {
		if cs.Name == "" {
			return fmt.Errorf("column %d has an empty name", i)
		}
		if _, dup := seen[cs.Name]; dup {
			return fmt.Errorf("duplicate column name %q", cs.Name)
		}
		seen[cs.Name] = struct{}{}
		if _, ok := kindNames[cs.Type]; !ok {
			return fmt.Errorf("column %q has invalid type", cs.Name)
		}
	}
	return nil
}

func (s Schema) String() string {
	parts := make([]string, len(s.Columns))
	for i, cs := range s.Columns {
		parts[i] = cs.Name + ":" + cs.Type.String()
	}
	return strings.Join(parts, ", ")
}
