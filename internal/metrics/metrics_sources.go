package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceReadFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mergectl_source_read_failed_total",
			Help: "Total number of failed source reads",
		},
		[]string{"scheme"},
	)

	sourceReadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mergectl_source_read_bytes_total",
			Help: "Total number of source bytes read",
		},
		[]string{"scheme"},
	)

	sourceReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mergectl_source_read_duration_seconds",
			Help:    "Source read duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"scheme"},
	)

	sourceCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mergectl_source_cache_hits_total",
			Help: "Total number of source reads served from the per-build cache",
		},
	)
)

// SourceRead records one read of a source; scheme is "file" or "http".
func SourceRead(scheme string, n int, startTime time.Time, err error) {
	sourceReadDuration.WithLabelValues(scheme).Observe(time.Since(startTime).Seconds())
	if err != nil {
		sourceReadFailed.WithLabelValues(scheme).Inc()
		return
	}
	sourceReadBytes.WithLabelValues(scheme).Add(float64(n))
}

func SourceCacheHit() {
	sourceCacheHits.Inc()
}
