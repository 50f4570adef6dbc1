package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mergeBuildFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mergectl_merge_build_failed_total",
			Help: "Number of times a merge has failed to build",
		},
		[]string{"merge", "error_type"},
	)

	mergeBuildCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mergectl_merge_build_count_total",
			Help: "Total number of times a merge has been built",
		},
	)

	mergeBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mergectl_merge_build_duration_seconds",
			Help:    "Merge build duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"merge"},
	)

	mergeOutputs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mergectl_merge_outputs",
			Help: "Number of outputs emitted by the last successful build of a merge",
		},
		[]string{"merge"},
	)

	lastMergeBuildEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mergectl_last_merge_build_end_timestamp",
			Help: "Unix timestamp of when the last merge build ended",
		},
		[]string{"merge"},
	)
)

func MergeBuildSucceeded(merge string, outputs int, startTime time.Time) {
	mergeBuildCount.Inc()
	mergeBuildDuration.WithLabelValues(merge).Observe(time.Since(startTime).Seconds())
	mergeOutputs.WithLabelValues(merge).Set(float64(outputs))
	lastMergeBuildEnd.WithLabelValues(merge).SetToCurrentTime()
}

func MergeBuildFailed(merge, errorType string) {
	mergeBuildCount.Inc()
	mergeBuildFailed.WithLabelValues(merge, errorType).Inc()
	lastMergeBuildEnd.WithLabelValues(merge).SetToCurrentTime()
}
