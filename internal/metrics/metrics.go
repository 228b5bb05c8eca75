package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeCompressed = "compressed"
	OutcomeOriginal   = "original"
	OutcomeSkipped    = "skipped"
	OutcomeError      = "error"
)

var (
	// Engine metrics
	EncodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_shrink_encodes_total",
			Help: "Total number of encode attempts",
		},
		[]string{"format"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_shrink_runs_total",
			Help: "Total number of compression runs",
		},
		[]string{"outcome"}, // compressed, original, skipped, error
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_shrink_run_duration_seconds",
			Help:    "Compression run duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	Bytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_shrink_bytes",
			Help:    "Compression input/output bytes",
			Buckets: []float64{1024, 10240, 51200, 102400, 512000, 1048576, 5242880, 10485760},
		},
		[]string{"direction"}, // input, output
	)

	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_shrink_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// Batch metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_shrink_batch_active_workers",
			Help: "Current number of busy batch worker slots",
		},
	)
)

// ObserveRun records a finished compression run.
func ObserveRun(outcome string, d time.Duration, inputBytes, outputBytes int) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(d.Seconds())
	Bytes.WithLabelValues("input").Observe(float64(inputBytes))
	Bytes.WithLabelValues("output").Observe(float64(outputBytes))
}

// RecordRequest records an HTTP request
func RecordRequest(endpoint string, status int) {
	HTTPRequestsTotal.WithLabelValues(endpoint, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
