package connectivity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cellTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsrs_cell_tasks_total",
		Help: "Cell tasks finished, by status and error kind",
	}, []string{"status", "kind"})

	cellTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vsrs_cell_task_duration_seconds",
		Help:    "Wall-clock time of one cell task",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	subjectAssembliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsrs_subject_assemblies_total",
		Help: "Subject export assemblies, by status and error kind",
	}, []string{"status", "kind"})
)

// WriteMetricsTextfile dumps the default registry in Prometheus text format,
// suitable for a node_exporter textfile collector.
func WriteMetricsTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
