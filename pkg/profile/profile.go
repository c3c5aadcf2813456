// Package profile accumulates per-column statistics over a stream of frames.
package profile

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// maxDistinct bounds the frequency table kept for string columns.
const maxDistinct = 4096

type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// ColumnStats is the per-column summary attached to a conversion report.
type ColumnStats struct {
	Name  string       `json:"name"`
	Kind  table.Kind   `json:"kind"`
	Count int64        `json:"count"`
	Nulls int64        `json:"nulls"`
	Min   string       `json:"min,omitempty"`
	Max   string       `json:"max,omitempty"`
	Mean  *float64     `json:"mean,omitempty"`
	True  int64        `json:"true,omitempty"`
	False int64        `json:"false,omitempty"`
	Top   []ValueCount `json:"top,omitempty"`
}

type numState struct {
	min, max, sum float64
	imin, imax    int64
}

type colState struct {
	name  string
	kind  table.Kind
	count int64
	nulls int64

	num    numState
	tmin   time.Time
	tmax   time.Time
	dmin   table.Date
	dmax   table.Date
	btrue  int64
	bfalse int64
	smin   string
	smax   string
	freqs  map[string]int64
}

type Collector struct {
	cols []colState
	topK int
}

// NewCollector prepares statistics for every column of schema. topK > 0
// keeps the most frequent values of string columns.
func NewCollector(schema table.Schema, topK int) *Collector {
	c := &Collector{topK: topK, cols: make([]colState, len(schema.Columns))}
	for i, cs := range schema.Columns {
		st := colState{name: cs.Name, kind: cs.Type}
		st.num = numState{min: math.Inf(1), max: math.Inf(-1), imin: math.MaxInt64, imax: math.MinInt64}
		if cs.Type == table.KindString && topK > 0 {
			st.freqs = make(map[string]int64)
		}
		c.cols[i] = st
	}
	return c
}

// ConsumeFrame folds every row of f into the statistics. The frame must share
// the collector's column layout.
func (c *Collector) ConsumeFrame(f *table.Frame) {
	for ci := 0; ci < f.Cols() && ci < len(c.cols); ci++ {
		st := &c.cols[ci]
		switch col := f.ColumnAt(ci).(type) {
		case *table.IntColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				st.count++
				st.num.imin = min(st.num.imin, v)
				st.num.imax = max(st.num.imax, v)
				st.num.sum += float64(v)
			}
		case *table.FloatColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				st.count++
				st.num.min = math.Min(st.num.min, v)
				st.num.max = math.Max(st.num.max, v)
				st.num.sum += v
			}
		case *table.BoolColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				st.count++
				if v {
					st.btrue++
				} else {
					st.bfalse++
				}
			}
		case *table.StringColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				if st.count == 0 || v < st.smin {
					st.smin = v
				}
				if st.count == 0 || v > st.smax {
					st.smax = v
				}
				st.count++
				if st.freqs != nil {
					if _, seen := st.freqs[v]; seen || len(st.freqs) < maxDistinct {
						st.freqs[v]++
					}
				}
			}
		case *table.TimeColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				if st.count == 0 || v.Before(st.tmin) {
					st.tmin = v
				}
				if st.count == 0 || v.After(st.tmax) {
					st.tmax = v
				}
				st.count++
			}
		case *table.DateColumn:
			for i := 0; i < col.Len(); i++ {
				v, ok := col.Get(i)
				if !ok {
					st.nulls++
					continue
				}
				if st.count == 0 || v < st.dmin {
					st.dmin = v
				}
				if st.count == 0 || v > st.dmax {
					st.dmax = v
				}
				st.count++
			}
		}
	}
}

// Stats returns a snapshot of the statistics in column order.
func (c *Collector) Stats() []ColumnStats {
	out := make([]ColumnStats, len(c.cols))
	for i := range c.cols {
		st := &c.cols[i]
		cs := ColumnStats{Name: st.name, Kind: st.kind, Count: st.count, Nulls: st.nulls}
		if st.count > 0 {
			switch st.kind {
			case table.KindInt:
				cs.Min = strconv.FormatInt(st.num.imin, 10)
				cs.Max = strconv.FormatInt(st.num.imax, 10)
				mean := st.num.sum / float64(st.count)
				cs.Mean = &mean
			case table.KindFloat:
				cs.Min = strconv.FormatFloat(st.num.min, 'g', -1, 64)
				cs.Max = strconv.FormatFloat(st.num.max, 'g', -1, 64)
				mean := st.num.sum / float64(st.count)
				cs.Mean = &mean
			case table.KindBool:
				cs.True, cs.False = st.btrue, st.bfalse
			case table.KindString:
				cs.Min, cs.Max = st.smin, st.smax
				cs.Top = c.top(st.freqs)
			case table.KindTime:
				cs.Min = st.tmin.UTC().Format(time.RFC3339Nano)
				cs.Max = st.tmax.UTC().Format(time.RFC3339Nano)
			case table.KindDate:
				cs.Min, cs.Max = st.dmin.String(), st.dmax.String()
			}
		}
		out[i] = cs
	}
	return out
}

func (c *Collector) top(freqs map[string]int64) []ValueCount {
	if len(freqs) == 0 {
		return nil
	}
	arr := make([]ValueCount, 0, len(freqs))
	for k, v := range freqs {
		arr = append(arr, ValueCount{Value: k, Count: v})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].Count != arr[j].Count {
			return arr[i].Count > arr[j].Count
		}
		return arr[i].Value < arr[j].Value
	})
	if len(arr) > c.topK {
		arr = arr[:c.topK]
	}
	return arr
}

// ReportText renders the statistics as an indented plain-text listing.
func ReportText(stats []ColumnStats) string {
	var b strings.Builder
	for _, cs := range stats {
		fmt.Fprintf(&b, "- %s (%s): count=%d nulls=%d", cs.Name, cs.Kind, cs.Count, cs.Nulls)
		switch {
		case cs.Kind == table.KindBool:
			fmt.Fprintf(&b, " true=%d false=%d", cs.True, cs.False)
		case cs.Min != "" || cs.Max != "":
			fmt.Fprintf(&b, " min=%s max=%s", cs.Min, cs.Max)
		}
		if cs.Mean != nil {
			fmt.Fprintf(&b, " mean=%.6g", *cs.Mean)
		}
		b.WriteByte('\n')
		for _, vc := range cs.Top {
			fmt.Fprintf(&b, "    %q: %d\n", vc.Value, vc.Count)
		}
	}
	return b.String()
}
