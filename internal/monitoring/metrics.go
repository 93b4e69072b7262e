package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TracksProcessedTotal counts tracks whose outcome was recorded, by action
	TracksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymd_tracks_processed_total",
			Help: "Total number of processed tracks",
		},
		[]string{"action"},
	)

	// TracksTotal counts track outcomes by action and status
	TracksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymd_tracks_total",
			Help: "Total number of track outcomes",
		},
		[]string{"action", "status"},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymd_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)

	// EncodingFallbacksTotal counts transfers retried with a lower bitrate
	EncodingFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ymd_encoding_fallbacks_total",
			Help: "Total number of fallbacks to a lower bitrate",
		},
	)

	// TransferDuration tracks audio transfer duration in seconds by codec
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ymd_transfer_duration_seconds",
			Help:    "Audio transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"codec"},
	)

	// TransferBytesTotal tracks total bytes transferred
	TransferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ymd_transfer_bytes_total",
			Help: "Total bytes transferred",
		},
	)

	// ActiveWorkers tracks the number of live workers
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ymd_active_workers",
			Help: "Number of live workers",
		},
	)

	// QueueSize tracks the number of unclaimed jobs
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ymd_queue_size",
			Help: "Current queue size",
		},
	)

	// PlaylistsCompletedTotal counts drained playlists by action
	PlaylistsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymd_playlists_completed_total",
			Help: "Total number of completed playlists",
		},
		[]string{"action"},
	)

	// APIRequestsTotal tracks API requests by endpoint and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ymd_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks API request duration
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ymd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

// RecordTrackOutcome records one processed track
func RecordTrackOutcome(action string, succeeded bool) {
	status := "succeeded"
	if !succeeded {
		status = "failed"
	}
	TracksProcessedTotal.WithLabelValues(action).Inc()
	TracksTotal.WithLabelValues(action, status).Inc()
}

// RecordTransfer records a completed audio transfer
func RecordTransfer(codec string, duration time.Duration, bytes int64) {
	TransferDuration.WithLabelValues(codec).Observe(duration.Seconds())
	TransferBytesTotal.Add(float64(bytes))
}

// RecordEncodingFallback records a move to the next lower bitrate
func RecordEncodingFallback() {
	EncodingFallbacksTotal.Inc()
}

// WorkerStarted increments the live worker gauge
func WorkerStarted() {
	ActiveWorkers.Inc()
}

// WorkerStopped decrements the live worker gauge
func WorkerStopped() {
	ActiveWorkers.Dec()
}

// UpdateQueueSize updates the queue size metric
func UpdateQueueSize(size int) {
	QueueSize.Set(float64(size))
}

// RecordPlaylistCompleted records a drained playlist
func RecordPlaylistCompleted(action string) {
	PlaylistsCompletedTotal.WithLabelValues(action).Inc()
}

// RecordAPIRequest records an API request
func RecordAPIRequest(endpoint string, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
