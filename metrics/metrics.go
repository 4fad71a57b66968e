// Package metrics provides Prometheus metrics for statefile loads, saves,
// backups and stale external references.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backup actions recorded by the store.
const (
	BackupCreated = "created"
	BackupSkipped = "skipped"
	BackupPruned  = "pruned"
)

// Collector holds all Prometheus metrics for statefile. A nil *Collector is
// valid and records nothing.
type Collector struct {
	// Store metrics
	Loads        *prometheus.CounterVec
	Saves        *prometheus.CounterVec
	SaveDuration prometheus.Histogram
	Backups      *prometheus.CounterVec

	// Reference metrics
	Unresolved   *prometheus.CounterVec
	Remediations *prometheus.CounterVec
}

// New creates a collector registered on reg. A nil reg uses the default
// Prometheus registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		Loads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statefile",
				Name:      "loads_total",
				Help:      "Total number of state file loads",
			},
			[]string{"file", "result"},
		),
		Saves: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statefile",
				Name:      "saves_total",
				Help:      "Total number of state file saves",
			},
			[]string{"file", "result"},
		),
		SaveDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "statefile",
				Name:      "save_duration_seconds",
				Help:      "Time spent serializing and writing a state file",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		Backups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statefile",
				Name:      "backups_total",
				Help:      "Backup rotation events by action",
			},
			[]string{"file", "action"},
		),
		Unresolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statefile",
				Name:      "unresolved_total",
				Help:      "Values that matched a serializer but could not be resolved",
			},
			[]string{"type"},
		),
		Remediations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "statefile",
				Name:      "remediations_total",
				Help:      "Remediation handlers run for stale references",
			},
			[]string{"record", "field"},
		),
	}
}

// LoadDone records a load attempt.
func (c *Collector) LoadDone(file string, err error) {
	if c == nil {
		return
	}
	c.Loads.WithLabelValues(file, result(err)).Inc()
}

// SaveDone records a save attempt and its duration.
func (c *Collector) SaveDone(file string, err error, d time.Duration) {
	if c == nil {
		return
	}
	c.Saves.WithLabelValues(file, result(err)).Inc()
	c.SaveDuration.Observe(d.Seconds())
}

// Backup records a backup rotation event.
func (c *Collector) Backup(file, action string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Backups.WithLabelValues(file, action).Add(float64(n))
}

// UnresolvedRef records a value of type typ that did not resolve.
func (c *Collector) UnresolvedRef(typ string) {
	if c == nil {
		return
	}
	c.Unresolved.WithLabelValues(typ).Inc()
}

// Remediated records a remediation handler run.
func (c *Collector) Remediated(record, field string) {
	if c == nil {
		return
	}
	c.Remediations.WithLabelValues(record, field).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
