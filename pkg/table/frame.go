package table

import (
	"fmt"
	"time"
)

// Date is a calendar date stored as days since the Unix epoch.
type Date int32

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Date(u.Unix() / 86400)
}

func (d Date) Time() time.Time { return time.Unix(int64(d)*86400, 0).UTC() }
func (d Date) String() string  { return d.Time().Format("2006-01-02") }

// Column is a typed, nullable column abstraction.
type Column interface {
	Name() string
	Kind() Kind
	Len() int
	IsNull(i int) bool
	SetNull(i int)
	AppendNull()
	truncate()
	pop()
}

type BoolColumn struct {
	name  string
	data  []bool
	nulls []bool
}

func NewBoolColumn(name string, n int) *BoolColumn {
	return &BoolColumn{name: name, data: make([]bool, n), nulls: make([]bool, n)}
}
func (c *BoolColumn) Name() string           { return c.name }
func (c *BoolColumn) Kind() Kind             { return KindBool }
func (c *BoolColumn) Len() int               { return len(c.data) }
func (c *BoolColumn) IsNull(i int) bool      { return c.nulls[i] }
func (c *BoolColumn) SetNull(i int)          { c.nulls[i] = true }
func (c *BoolColumn) Get(i int) (bool, bool) { return c.data[i], !c.nulls[i] }
func (c *BoolColumn) Set(i int, v bool)      { c.data[i] = v; c.nulls[i] = false }
func (c *BoolColumn) AppendNull()            { c.data = append(c.data, false); c.nulls = append(c.nulls, true) }
func (c *BoolColumn) Append(v bool)          { c.data = append(c.data, v); c.nulls = append(c.nulls, false) }
func (c *BoolColumn) pop()                   { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *BoolColumn) truncate()              { c.data = c.data[:0]; c.nulls = c.nulls[:0] }

type IntColumn struct {
	name  string
	data  []int64
	nulls []bool
}

func NewIntColumn(name string, n int) *IntColumn {
	return &IntColumn{name: name, data: make([]int64, n), nulls: make([]bool, n)}
}
func (c *IntColumn) Name() string            { return c.name }
func (c *IntColumn) Kind() Kind              { return KindInt }
func (c *IntColumn) Len() int                { return len(c.data) }
func (c *IntColumn) IsNull(i int) bool       { return c.nulls[i] }
func (c *IntColumn) SetNull(i int)           { c.nulls[i] = true }
func (c *IntColumn) Get(i int) (int64, bool) { return c.data[i], !c.nulls[i] }
func (c *IntColumn) Set(i int, v int64)      { c.data[i] = v; c.nulls[i] = false }
func (c *IntColumn) AppendNull()             { c.data = append(c.data, 0); c.nulls = append(c.nulls, true) }
func (c *IntColumn) Append(v int64)          { c.data = append(c.data, v); c.nulls = append(c.nulls, false) }
func (c *IntColumn) pop()                    { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *IntColumn) truncate()               { c.data = c.data[:0]; c.nulls = c.nulls[:0] }

type FloatColumn struct {
	name  string
	data  []float64
	nulls []bool
}

func NewFloatColumn(name string, n int) *FloatColumn {
	return &FloatColumn{name: name, data: make([]float64, n), nulls: make([]bool, n)}
}
func (c *FloatColumn) Name() string              { return c.name }
func (c *FloatColumn) Kind() Kind                { return KindFloat }
func (c *FloatColumn) Len() int                  { return len(c.data) }
func (c *FloatColumn) IsNull(i int) bool         { return c.nulls[i] }
func (c *FloatColumn) SetNull(i int)             { c.nulls[i] = true }
func (c *FloatColumn) Get(i int) (float64, bool) { return c.data[i], !c.nulls[i] }
func (c *FloatColumn) Set(i int, v float64)      { c.data[i] = v; c.nulls[i] = false }
func (c *FloatColumn) AppendNull()               { c.data = append(c.data, 0); c.nulls = append(c.nulls, true) }
func (c *FloatColumn) Append(v float64)          { c.data = append(c.data, v); c.nulls = append(c.nulls, false) }
func (c *FloatColumn) pop()                      { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *FloatColumn) truncate()                 { c.data = c.data[:0]; c.nulls = c.nulls[:0] }

type StringColumn struct {
	name  string
	data  []string
	nulls []bool
}

func NewStringColumn(name string, n int) *StringColumn {
	return &StringColumn{name: name, data: make([]string, n), nulls: make([]bool, n)}
}
func (c *StringColumn) Name() string             { return c.name }
func (c *StringColumn) Kind() Kind               { return KindString }
func (c *StringColumn) Len() int                 { return len(c.data) }
func (c *StringColumn) IsNull(i int) bool        { return c.nulls[i] }
func (c *StringColumn) SetNull(i int)            { c.nulls[i] = true }
func (c *StringColumn) Get(i int) (string, bool) { return c.data[i], !c.nulls[i] }
func (c *StringColumn) Set(i int, v string)      { c.data[i] = v; c.nulls[i] = false }
func (c *StringColumn) AppendNull()              { c.data = append(c.data, ""); c.nulls = append(c.nulls, true) }
func (c *StringColumn) Append(v string)          { c.data = append(c.data, v); c.nulls = append(c.nulls, false) }
func (c *StringColumn) pop()                     { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *StringColumn) truncate() {
	// drop references so a reused batch does not pin old strings
	clear(c.data)
	c.data = c.data[:0]
	c.nulls = c.nulls[:0]
}

type TimeColumn struct {
	name  string
	data  []time.Time
	nulls []bool
}

func NewTimeColumn(name string, n int) *TimeColumn {
	return &TimeColumn{name: name, data: make([]time.Time, n), nulls: make([]bool, n)}
}
func (c *TimeColumn) Name() string                { return c.name }
func (c *TimeColumn) Kind() Kind                  { return KindTime }
func (c *TimeColumn) Len() int                    { return len(c.data) }
func (c *TimeColumn) IsNull(i int) bool           { return c.nulls[i] }
func (c *TimeColumn) SetNull(i int)               { c.nulls[i] = true }
func (c *TimeColumn) Get(i int) (time.Time, bool) { return c.data[i], !c.nulls[i] }
func (c *TimeColumn) Set(i int, v time.Time)      { c.data[i] = v; c.nulls[i] = false }
func (c *TimeColumn) AppendNull() {
	c.data = append(c.data, time.Time{})
	c.nulls = append(c.nulls, true)
}
func (c *TimeColumn) Append(v time.Time) {
	c.data = append(c.data, v)
	c.nulls = append(c.nulls, false)
}
func (c *TimeColumn) pop()      { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *TimeColumn) truncate() { c.data = c.data[:0]; c.nulls = c.nulls[:0] }

type DateColumn struct {
	name  string
	data  []Date
	nulls []bool
}

func NewDateColumn(name string, n int) *DateColumn {
	return &DateColumn{name: name, data: make([]Date, n), nulls: make([]bool, n)}
}
func (c *DateColumn) Name() string           { return c.name }
func (c *DateColumn) Kind() Kind             { return KindDate }
func (c *DateColumn) Len() int               { return len(c.data) }
func (c *DateColumn) IsNull(i int) bool      { return c.nulls[i] }
func (c *DateColumn) SetNull(i int)          { c.nulls[i] = true }
func (c *DateColumn) Get(i int) (Date, bool) { return c.data[i], !c.nulls[i] }
func (c *DateColumn) Set(i int, v Date)      { c.data[i] = v; c.nulls[i] = false }
func (c *DateColumn) AppendNull()            { c.data = append(c.data, 0); c.nulls = append(c.nulls, true) }
func (c *DateColumn) Append(v Date)          { c.data = append(c.data, v); c.nulls = append(c.nulls, false) }
func (c *DateColumn) pop()                   { c.data = c.data[:len(c.data)-1]; c.nulls = c.nulls[:len(c.nulls)-1] }
func (c *DateColumn) truncate()              { c.data = c.data[:0]; c.nulls = c.nulls[:0] }

// Frame is a columnar container for tabular data. The converter uses it as
// the typed batch: filled, flushed and Reset repeatedly.
type Frame struct {
	schema Schema
	cols   []Column
	nrows  int
}

func NewFrame(s Schema) *Frame {
	return NewFrameWithCapacity(s, 0)
}

// NewFrameWithCapacity preallocates room for n rows per column.
func NewFrameWithCapacity(s Schema, n int) *Frame {
	f := &Frame{schema: s, cols: make([]Column, len(s.Columns))}
	for i, cs := range s.Columns {
		switch cs.Type {
		case KindBool:
			c := NewBoolColumn(cs.Name, 0)
			c.data, c.nulls = make([]bool, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		case KindInt:
			c := NewIntColumn(cs.Name, 0)
			c.data, c.nulls = make([]int64, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		case KindFloat:
			c := NewFloatColumn(cs.Name, 0)
			c.data, c.nulls = make([]float64, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		case KindString:
			c := NewStringColumn(cs.Name, 0)
			c.data, c.nulls = make([]string, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		case KindTime:
			c := NewTimeColumn(cs.Name, 0)
			c.data, c.nulls = make([]time.Time, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		case KindDate:
			c := NewDateColumn(cs.Name, 0)
			c.data, c.nulls = make([]Date, 0, n), make([]bool, 0, n)
			f.cols[i] = c
		default:
			panic("invalid column kind")
		}
	}
	return f
}

func (f *Frame) Schema() Schema { return f.schema }
func (f *Frame) Rows() int      { return f.nrows }
func (f *Frame) Cols() int      { return len(f.cols) }

func (f *Frame) ColumnAt(i int) Column { return f.cols[i] }

// AppendNullRow appends a row with all-null values.
func (f *Frame) AppendNullRow() {
	for _, c := range f.cols {
		c.AppendNull()
	}
	f.nrows++
}

// AppendRow appends one row, vals[i] going to column i (nil for null).
// On a type mismatch nothing is appended.
func (f *Frame) AppendRow(vals []any) error {
	if len(vals) != len(f.cols) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(vals), len(f.cols))
	}
	for i, v := range vals {
		if err := appendValue(f.cols[i], v); err != nil {
			for j := 0; j < i; j++ {
				f.cols[j].pop()
			}
			return err
		}
	}
	f.nrows++
	return nil
}

func appendValue(c Column, v any) error {
	if v == nil {
		c.AppendNull()
		return nil
	}
	switch col := c.(type) {
	case *BoolColumn:
		if b, ok := v.(bool); ok {
			col.Append(b)
			return nil
		}
	case *IntColumn:
		switch t := v.(type) {
		case int64:
			col.Append(t)
			return nil
		case int:
			col.Append(int64(t))
			return nil
		case int32:
			col.Append(int64(t))
			return nil
		}
	case *FloatColumn:
		switch t := v.(type) {
		case float64:
			col.Append(t)
			return nil
		case float32:
			col.Append(float64(t))
			return nil
		case int64:
			col.Append(float64(t))
			return nil
		case int:
			col.Append(float64(t))
			return nil
		}
	case *StringColumn:
		if s, ok := v.(string); ok {
			col.Append(s)
			return nil
		}
	case *TimeColumn:
		if t, ok := v.(time.Time); ok {
			col.Append(t)
			return nil
		}
	case *DateColumn:
		switch t := v.(type) {
		case Date:
			col.Append(t)
			return nil
		case time.Time:
			col.Append(DateOf(t))
			return nil
		}
	}
	return fmt.Errorf("column %s (%s) cannot hold %T", c.Name(), c.Kind(), v)
}

// Reset empties the frame while keeping column storage for reuse.
func (f *Frame) Reset() {
	for _, c := range f.cols {
		c.truncate()
	}
	f.nrows = 0
}

// Value returns the cell at (row, col) as a Go value, or nil when null.
func (f *Frame) Value(row, col int) any {
	switch c := f.cols[col].(type) {
	case *BoolColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	case *IntColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	case *FloatColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	case *StringColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	case *TimeColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	case *DateColumn:
		if v, ok := c.Get(row); ok {
			return v
		}
	}
	return nil
}

// SetCellAt sets a single cell value by column position.
func (f *Frame) SetCellAt(row, col int, v any) error {
	c := f.cols[col]
	if v == nil {
		c.SetNull(row)
		return nil
	}
	switch col := c.(type) {
	case *BoolColumn:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("column %s expects bool", col.name)
		}
		col.Set(row, b)
	case *IntColumn:
		switch t := v.(type) {
		case int:
			col.Set(row, int64(t))
		case int32:
			col.Set(row, int64(t))
		case int64:
			col.Set(row, t)
		default:
			return fmt.Errorf("column %s expects int/int64", col.name)
		}
	case *FloatColumn:
		switch t := v.(type) {
		case float32:
			col.Set(row, float64(t))
		case float64:
			col.Set(row, t)
		case int:
			col.Set(row, float64(t))
		case int64:
			col.Set(row, float64(t))
		default:
			return fmt.Errorf("column %s expects float64", col.name)
		}
	case *StringColumn:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("column %s expects string", col.name)
		}
		col.Set(row, s)
	case *TimeColumn:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("column %s expects time.Time", col.name)
		}
		col.Set(row, t)
	case *DateColumn:
		switch t := v.(type) {
		case Date:
			col.Set(row, t)
		case time.Time:
			col.Set(row, DateOf(t))
		default:
			return fmt.Errorf("column %s expects date", col.name)
		}
	default:
		return fmt.Errorf("unknown column kind")
	}
	return nil
}
