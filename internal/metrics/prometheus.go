package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice relay.
// All Record* methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Capture metrics
	CaptureChunks  prometheus.Counter
	CaptureClipped prometheus.Counter

	// Link / framing metrics
	LinkBytes      prometheus.Counter
	FramesDecoded  *prometheus.CounterVec
	ProtocolErrors prometheus.Counter

	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsAbandoned prometheus.Counter
	SessionDuration   prometheus.Histogram
	SessionBytes      prometheus.Histogram

	// Upload metrics
	ChunksSent    *prometheus.CounterVec
	ChunkDuration *prometheus.HistogramVec
	UploadedBytes prometheus.Counter
	ResponseBytes prometheus.Counter

	// Playback metrics
	PlaybacksStarted  prometheus.Counter
	PlaybacksRejected prometheus.Counter
	PlaybackBytes     prometheus.Counter

	// State machine metrics
	StateTransitions *prometheus.CounterVec
	CurrentState     prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CaptureChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_capture_chunks_total",
			Help: "Total number of microphone chunks captured",
		}),
		CaptureClipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_capture_clipped_samples_total",
			Help: "Total number of captured samples saturated by the converter",
		}),

		// Link / framing metrics
		LinkBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_link_bytes_total",
			Help: "Total number of bytes received from the capture link",
		}),
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrzorro_frames_decoded_total",
			Help: "Total number of link frames decoded by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_protocol_errors_total",
			Help: "Total number of link protocol errors",
		}),

		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_sessions_completed_total",
			Help: "Total number of recording sessions completed",
		}),
		SessionsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_sessions_abandoned_total",
			Help: "Total number of recording sessions abandoned after an error",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrzorro_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		SessionBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mrzorro_session_size_bytes",
			Help:    "Size of recorded sessions in bytes",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 12), // 4KB to ~8MB
		}),

		// Upload metrics
		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrzorro_upload_chunks_total",
			Help: "Total number of upload chunk requests by result",
		}, []string{"result"}),
		ChunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrzorro_upload_chunk_duration_seconds",
			Help:    "Duration of upload chunk requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}, []string{"last"}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_upload_bytes_total",
			Help: "Total number of audio bytes uploaded",
		}),
		ResponseBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_response_bytes_total",
			Help: "Total number of synthesized response bytes received",
		}),

		// Playback metrics
		PlaybacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_playbacks_started_total",
			Help: "Total number of response playbacks started",
		}),
		PlaybacksRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_playbacks_rejected_total",
			Help: "Total number of responses rejected by header validation",
		}),
		PlaybackBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrzorro_playback_bytes_total",
			Help: "Total number of response bytes streamed to the sink",
		}),

		// State machine metrics
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrzorro_state_transitions_total",
			Help: "Total number of device state transitions",
		}, []string{"from", "to"}),
		CurrentState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mrzorro_device_state",
			Help: "Current device state as its numeric code",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrzorro_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrzorro_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrzorro_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCaptureChunk records a captured chunk and how many samples clipped
func (m *Metrics) RecordCaptureChunk(clipped int) {
	if m == nil {
		return
	}
	m.CaptureChunks.Inc()
	m.CaptureClipped.Add(float64(clipped))
}

// RecordLinkBytes adds to the received link bytes counter
func (m *Metrics) RecordLinkBytes(n int) {
	if m == nil {
		return
	}
	m.LinkBytes.Add(float64(n))
}

// RecordFrame increments the decoded frames counter for a frame type
func (m *Metrics) RecordFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(frameType).Inc()
}

// RecordProtocolError increments the protocol errors counter
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionCompleted records a completed session with its duration and size
func (m *Metrics) RecordSessionCompleted(durationSeconds float64, sizeBytes uint64) {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionBytes.Observe(float64(sizeBytes))
}

// RecordSessionAbandoned increments the sessions abandoned counter
func (m *Metrics) RecordSessionAbandoned() {
	if m == nil {
		return
	}
	m.SessionsAbandoned.Inc()
}

// RecordChunk records one upload chunk request
func (m *Metrics) RecordChunk(result string, last bool, sizeBytes int, durationSeconds float64) {
	if m == nil {
		return
	}
	lastLabel := "false"
	if last {
		lastLabel = "true"
	}
	m.ChunksSent.WithLabelValues(result).Inc()
	m.ChunkDuration.WithLabelValues(lastLabel).Observe(durationSeconds)
	if result == "ok" {
		m.UploadedBytes.Add(float64(sizeBytes))
	}
}

// RecordResponseBytes adds to the received response bytes counter
func (m *Metrics) RecordResponseBytes(n int64) {
	if m == nil {
		return
	}
	m.ResponseBytes.Add(float64(n))
}

// RecordPlaybackStarted increments the playbacks started counter
func (m *Metrics) RecordPlaybackStarted() {
	if m == nil {
		return
	}
	m.PlaybacksStarted.Inc()
}

// RecordPlaybackRejected increments the playbacks rejected counter
func (m *Metrics) RecordPlaybackRejected() {
	if m == nil {
		return
	}
	m.PlaybacksRejected.Inc()
}

// RecordPlaybackBytes adds to the streamed playback bytes counter
func (m *Metrics) RecordPlaybackBytes(n int) {
	if m == nil {
		return
	}
	m.PlaybackBytes.Add(float64(n))
}

// RecordTransition records a state machine transition
func (m *Metrics) RecordTransition(from, to string, code int) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
	m.CurrentState.Set(float64(code))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
