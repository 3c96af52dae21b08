// Package metrics records pipeline counters on a private prometheus registry.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pmcrefs"

// Recorder holds the run metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	archives   *prometheus.CounterVec
	documents  *prometheus.CounterVec
	references prometheus.Counter
	stages     *prometheus.GaugeVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		archives: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archives_total",
				Help:      "Dump archives processed by the split stage, by outcome.",
			},
			[]string{"outcome"},
		),
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_total",
				Help:      "Article documents processed by the extract stage, by outcome.",
			},
			[]string{"outcome"},
		),
		references: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "references_total",
				Help:      "References written to the output table.",
			},
		),
		stages: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of the last run of each pipeline stage.",
			},
			[]string{"stage"},
		),
	}
	r.registry.MustRegister(r.archives, r.documents, r.references, r.stages)
	return r
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ArchiveDone counts one archive with the given outcome.
func (r *Recorder) ArchiveDone(outcome string) {
	if r == nil {
		return
	}
	r.archives.WithLabelValues(outcome).Inc()
}

// DocumentDone counts one document with the given outcome.
func (r *Recorder) DocumentDone(outcome string) {
	if r == nil {
		return
	}
	r.documents.WithLabelValues(outcome).Inc()
}

// References adds n written references.
func (r *Recorder) References(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.references.Add(float64(n))
}

// StageDuration records how long a stage took.
func (r *Recorder) StageDuration(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stages.WithLabelValues(stage).Set(d.Seconds())
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics file: %w", err)
	}
	return nil
}
