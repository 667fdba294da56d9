package jsondb

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOperation = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jsondb_operation_duration_seconds",
			Help:    "Duration of store operations.",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{
			"op", // get, set, update, push, delete, exists, lookup, write, createtables, droptables
		},
	)
	metricOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_operation_errors_total",
			Help: "Number of store operations that failed.",
		},
		[]string{"op"},
	)
	metricRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsondb_rows_written_total",
			Help: "Number of rows inserted.",
		},
	)
	metricRowsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsondb_rows_deleted_total",
			Help: "Number of rows deleted.",
		},
	)
	metricIndexLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_index_lookups_total",
			Help: "Number of property value lookups, by how they were resolved.",
		},
		[]string{
			"result", // indexed, scan, noindex
		},
	)
	metricUnindexedScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jsondb_unindexed_scans_total",
			Help: "Number of property value lookups resolved by scanning a subtree because no index was declared.",
		},
	)
	metricEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondb_events_total",
			Help: "Number of change events broadcast.",
		},
		[]string{"event"},
	)
)

func observe(op string, start time.Time, err error) {
	metricOperation.WithLabelValues(op).Observe(float64(time.Since(start)) / float64(time.Second))
	if err != nil {
		metricOperationErrors.WithLabelValues(op).Inc()
	}
}
