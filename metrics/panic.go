// Package metrics has prometheus metrics shared between packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPanic = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jsondb_panic_total",
		Help: "Number of unhandled panics, by package.",
	},
	[]string{
		"pkg",
	},
)

// Panic is the package or subsystem a panic was recovered in.
type Panic string

const (
	Events  Panic = "events"
	Migrate Panic = "migrate"
)

// PanicInc counts a recovered panic.
func PanicInc(name Panic) {
	metricPanic.WithLabelValues(string(name)).Inc()
}
