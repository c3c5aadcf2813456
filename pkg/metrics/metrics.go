// Package metrics records conversion counters in a Prometheus registry.
//
// The tool runs once per file, so there is no scrape endpoint. Callers
// write the registry to a node-exporter textfile after the run:
//
//	rec := metrics.New()
//	conv, _ := convert.New(opts, convert.WithMetrics(rec))
//	report, err := conv.Convert(ctx, in, sink)
//	_ = rec.WriteTextfile("/var/lib/node_exporter/csv2parquet.prom")
//
// Every method is safe to call on a nil *Recorder.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "csv2parquet"

type Recorder struct {
	registry *prometheus.Registry

	rowsProcessed prometheus.Counter
	rowsRejected  prometheus.Counter
	rowsNulled    prometheus.Counter
	batches       prometheus.Counter
	batchRows     prometheus.Histogram
	duration      *prometheus.HistogramVec
	runs          *prometheus.CounterVec
}

// New creates a Recorder backed by its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		rowsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows written to the output, including rows with nulled fields.",
		}),
		rowsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_rejected_total",
			Help:      "Rows dropped by the error policy.",
		}),
		rowsNulled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_nulled_total",
			Help:      "Rows written with one or more fields replaced by null.",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_flushed_total",
			Help:      "Typed batches flushed to the output as row groups.",
		}),
		batchRows: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_rows",
			Help:      "Rows per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall time of a conversion run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Conversion runs by terminal status.",
		}, []string{"status"}),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RowProcessed(nulled bool) {
	if r == nil {
		return
	}
	r.rowsProcessed.Inc()
	if nulled {
		r.rowsNulled.Inc()
	}
}

func (r *Recorder) RowRejected() {
	if r == nil {
		return
	}
	r.rowsRejected.Inc()
}

func (r *Recorder) BatchFlushed(rows int) {
	if r == nil {
		return
	}
	r.batches.Inc()
	r.batchRows.Observe(float64(rows))
}

// RunFinished records the terminal status and duration of one run.
func (r *Recorder) RunFinished(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.duration.WithLabelValues(status).Observe(d.Seconds())
}

// WriteTextfile writes the registry in the text exposition format. The file
// is written atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
