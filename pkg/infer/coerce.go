package infer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04",
}

// ParseInt accepts an optional sign and decimal digits only.
func ParseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

// ParseFloat accepts decimal and exponent notation. Spellings such as
// "Inf" or "NaN" are left to the null tokens or the string column.
func ParseFloat(s string) (float64, bool) {
	if s == "" || !looksNumeric(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func looksNumeric(s string) bool {
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '+' || c == '-' || c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return digits
}

// ParseBool accepts true/false, t/f, yes/no and y/n in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	}
	return false, false
}

func ParseDate(s string) (table.Date, bool) {
	if len(s) < 8 || len(s) > 10 {
		return 0, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return table.DateOf(t), true
		}
	}
	return 0, false
}

// ParseTime parses a timestamp. Values without a zone are read as UTC.
// Timestamps are stored with microsecond precision, so values carrying
// nanosecond digits are not accepted and stay strings.
func ParseTime(s string) (time.Time, bool) {
	if len(s) < 16 {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Nanosecond()%int(time.Microsecond) != 0 {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Coerce converts a raw, non-null field to the Go value for kind.
func Coerce(kind table.Kind, raw string) (any, error) {
	switch kind {
	case table.KindString:
		return raw, nil
	case table.KindInt:
		if v, ok := ParseInt(raw); ok {
			return v, nil
		}
	case table.KindFloat:
		if v, ok := ParseFloat(raw); ok {
			return v, nil
		}
	case table.KindBool:
		if v, ok := ParseBool(raw); ok {
			return v, nil
		}
		switch raw {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
	case table.KindDate:
		if v, ok := ParseDate(raw); ok {
			return v, nil
		}
		// a midnight timestamp is still a date
		if t, ok := ParseTime(raw); ok && t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return table.DateOf(t), nil
		}
	case table.KindTime:
		if v, ok := ParseTime(raw); ok {
			return v, nil
		}
		if d, ok := ParseDate(raw); ok {
			return d.Time(), nil
		}
	default:
		return nil, fmt.Errorf("cannot coerce to %s", kind)
	}
	return nil, fmt.Errorf("cannot parse %q as %s", raw, kind)
}
