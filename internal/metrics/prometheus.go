package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	CaptureSessions   prometheus.Counter
	CaptureActive     prometheus.Gauge
	FramesCaptured    prometheus.Counter
	BytesCaptured     prometheus.Counter
	CaptureErrors     *prometheus.CounterVec
	FinalizeFailures  prometheus.Counter
	RecordingDuration prometheus.Histogram

	// Voice gate metrics
	VoiceRatio       prometheus.Histogram
	SilentRecordings prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionResults  *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	UploadBytes           prometheus.Counter
	KeepAliveCloses       prometheus.Counter

	// Cycle metrics
	Cycles        *prometheus.CounterVec
	ArchiveErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg.
// Passing prometheus.DefaultRegisterer matches promauto's package-level behaviour.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CaptureSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_capture_sessions_total",
			Help: "Total number of capture sessions started",
		}),
		CaptureActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicecap_capture_active",
			Help: "1 while a capture session is active",
		}),
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_frames_captured_total",
			Help: "Total number of frames appended to recordings",
		}),
		BytesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_bytes_captured_total",
			Help: "Total number of PCM bytes appended to recordings",
		}),
		CaptureErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_capture_errors_total",
			Help: "Total number of capture errors",
		}, []string{"stage"}),
		FinalizeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_finalize_failures_total",
			Help: "Total number of container finalization failures",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_recording_duration_seconds",
			Help:    "Duration of finished recordings",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}),

		// Voice gate metrics
		VoiceRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_voice_ratio",
			Help:    "Fraction of analysis windows classified as voice",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		SilentRecordings: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_silent_recordings_total",
			Help: "Total number of recordings skipped by the voice gate",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_transcription_requests_total",
			Help: "Total number of transcription requests attempted",
		}),
		TranscriptionResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_transcription_results_total",
			Help: "Total number of transcription results by kind",
		}, []string{"kind"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecap_transcription_duration_seconds",
			Help:    "Wall time of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1.7 minutes
		}),
		UploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_upload_bytes_total",
			Help: "Total number of container bytes uploaded",
		}),
		KeepAliveCloses: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_keepalive_closes_total",
			Help: "Total number of idle connections closed by keepalive",
		}),

		// Cycle metrics
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_cycles_total",
			Help: "Total number of capture cycles by outcome",
		}, []string{"outcome"}),
		ArchiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voicecap_archive_errors_total",
			Help: "Total number of failed recording archive uploads",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicecap_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecap_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted marks a capture session as active
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.CaptureSessions.Inc()
	m.CaptureActive.Set(1)
}

// RecordSessionEnded clears the active gauge
func (m *Metrics) RecordSessionEnded() {
	if m == nil {
		return
	}
	m.CaptureActive.Set(0)
}

// RecordFrame records one appended frame
func (m *Metrics) RecordFrame(bytes int) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.BytesCaptured.Add(float64(bytes))
}

// RecordCaptureError increments the capture error counter for a stage
func (m *Metrics) RecordCaptureError(stage string) {
	if m == nil {
		return
	}
	m.CaptureErrors.WithLabelValues(stage).Inc()
}

// RecordFinalizeFailure increments the finalize failure counter
func (m *Metrics) RecordFinalizeFailure() {
	if m == nil {
		return
	}
	m.FinalizeFailures.Inc()
}

// RecordRecording records the duration of a finished recording
func (m *Metrics) RecordRecording(durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecordingDuration.Observe(durationSeconds)
}

// RecordVoiceRatio records the voice gate analysis of one recording
func (m *Metrics) RecordVoiceRatio(ratio float64, skipped bool) {
	if m == nil {
		return
	}
	m.VoiceRatio.Observe(ratio)
	if skipped {
		m.SilentRecordings.Inc()
	}
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionResult records the kind and wall time of a finished request
func (m *Metrics) RecordTranscriptionResult(kind string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionResults.WithLabelValues(kind).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordUpload adds uploaded body bytes
func (m *Metrics) RecordUpload(bytes int64) {
	if m == nil {
		return
	}
	m.UploadBytes.Add(float64(bytes))
}

// RecordKeepAliveClose increments the keepalive close counter
func (m *Metrics) RecordKeepAliveClose() {
	if m == nil {
		return
	}
	m.KeepAliveCloses.Inc()
}

// RecordCycle increments the cycle counter for an outcome
func (m *Metrics) RecordCycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

// RecordArchiveError increments the archive error counter
func (m *Metrics) RecordArchiveError() {
	if m == nil {
		return
	}
	m.ArchiveErrors.Inc()
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
