package convert

import (
	"fmt"
	"time"

	"github.com/wdm0006/csv2parquet/pkg/profile"
	"github.com/wdm0006/csv2parquet/pkg/table"
)

type Status string

const (
	StatusSucceeded              Status = "succeeded"
	StatusCompletedWithRejection Status = "completed_with_rejections"
	StatusFailed                 Status = "failed"
	StatusCanceled               Status = "canceled"
)

// RowIssue is the report entry for one rejected or nulled row.
type RowIssue struct {
	Line   int    `json:"line"`
	Row    int64  `json:"row"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
	Action string `json:"action"`
}

// Report is returned by every conversion, including failed ones.
// RowsProcessed + RowsRejected always equals RowsTotal.
type Report struct {
	RunID         string                `json:"run_id"`
	Status        Status                `json:"status"`
	RowsTotal     int64                 `json:"rows_total"`
	RowsProcessed int64                 `json:"rows_processed"`
	RowsRejected  int64                 `json:"rows_rejected"`
	RowsNulled    int64                 `json:"rows_nulled"`
	Batches       int                   `json:"batches"`
	Schema        table.Schema          `json:"schema"`
	Errors        []RowIssue            `json:"errors,omitempty"`
	ErrorCount    int64                 `json:"error_count"`
	Columns       []profile.ColumnStats `json:"columns,omitempty"`
	Duration      time.Duration         `json:"duration_ns"`
	Error         string                `json:"error,omitempty"`
}

// Summary is the one-line outcome printed after every run.
func (r *Report) Summary() string {
	s := fmt.Sprintf("%s: %d rows processed, %d rejected", r.Status, r.RowsProcessed, r.RowsRejected)
	if r.RowsNulled > 0 {
		s += fmt.Sprintf(", %d with nulled fields", r.RowsNulled)
	}
	s += fmt.Sprintf(" (%d total, %d batches, %s)", r.RowsTotal, r.Batches, r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		s += ": " + r.Error
	}
	return s
}
