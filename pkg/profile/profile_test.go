package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

func TestCollector(t *testing.T) {
	s := table.Schema{Columns: []table.ColumnSchema{
		{Name: "n", Type: table.KindInt},
		{Name: "x", Type: table.KindFloat},
		{Name: "b", Type: table.KindBool},
		{Name: "s", Type: table.KindString},
		{Name: "d", Type: table.KindDate},
		{Name: "t", Type: table.KindTime},
	}}
	rows := [][]any{
		{int64(3), 1.5, true, "b", table.Date(10), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{int64(-1), nil, false, "a", table.Date(5), nil},
		{nil, 2.5, true, "b", nil, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	c := NewCollector(s, 1)
	// two frames to check accumulation across batches
	for _, part := range [][][]any{rows[:2], rows[2:]} {
		f := table.NewFrame(s)
		for i, r := range part {
			f.AppendNullRow()
			for ci, v := range r {
				require.NoError(t, f.SetCellAt(i, ci, v))
			}
		}
		c.ConsumeFrame(f)
	}

	st := c.Stats()
	require.Len(t, st, 6)

	assert.Equal(t, int64(2), st[0].Count)
	assert.Equal(t, int64(1), st[0].Nulls)
	assert.Equal(t, "-1", st[0].Min)
	assert.Equal(t, "3", st[0].Max)
	require.NotNil(t, st[0].Mean)
	assert.InDelta(t, 1.0, *st[0].Mean, 1e-9)

	assert.Equal(t, "1.5", st[1].Min)
	assert.Equal(t, "2.5", st[1].Max)

	assert.Equal(t, int64(2), st[2].True)
	assert.Equal(t, int64(1), st[2].False)

	assert.Equal(t, "a", st[3].Min)
	assert.Equal(t, []ValueCount{{Value: "b", Count: 2}}, st[3].Top)

	assert.Equal(t, "1970-01-06", st[4].Min)
	assert.Equal(t, "1970-01-11", st[4].Max)

	assert.Equal(t, "2023-01-02T00:00:00Z", st[5].Min)
	assert.Equal(t, int64(1), st[5].Nulls)

	txt := ReportText(st)
	assert.Contains(t, txt, "- n (int): count=2 nulls=1 min=-1 max=3 mean=1")
	assert.Contains(t, txt, "true=2 false=1")
}

func TestCollectorEmptyColumn(t *testing.T) {
	s := table.Schema{Columns: []table.ColumnSchema{{Name: "n", Type: table.KindInt}}}
	f := table.NewFrame(s)
	f.AppendNullRow()
	c := NewCollector(s, 0)
	c.ConsumeFrame(f)
	st := c.Stats()
	assert.Equal(t, int64(1), st[0].Nulls)
	assert.Empty(t, st[0].Min)
	assert.Nil(t, st[0].Mean)
}
