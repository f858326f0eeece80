// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "soil_assistant"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsReset   prometheus.Counter
	SessionsDone    prometheus.Counter

	// Step metrics
	StepsAccepted     prometheus.Counter
	PayloadsDuplicate prometheus.Counter
	StaleResponses    prometheus.Counter

	// Timeline metrics
	TimelineEntries *prometheus.CounterVec

	// Submission metrics
	SubmissionsTotal    *prometheus.CounterVec
	SubmissionsRejected *prometheus.CounterVec
	SubmissionLatency   *prometheus.HistogramVec

	// Playback metrics
	PlaybackTotal    *prometheus.CounterVec
	PlaybackSkipped  prometheus.Counter
	PlaybackDuration prometheus.Histogram

	// Recorder metrics
	RecordingsTotal    *prometheus.CounterVec
	RecordedBytes      prometheus.Counter
	RecordingDuration  prometheus.Histogram
	RecorderLimitsHits *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP surface metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of conversation sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of conversation sessions currently in progress",
		}),
		SessionsReset: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reset_total",
			Help:      "Total number of sessions discarded by reset",
		}),
		SessionsDone: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of sessions that reached completion",
		}),

		StepsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_accepted_total",
			Help:      "Total number of step payloads that advanced the conversation",
		}),
		PayloadsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_duplicate_total",
			Help:      "Total number of step payloads ignored as re-deliveries",
		}),
		StaleResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Total number of collaborator responses dropped after reset",
		}),

		TimelineEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeline_entries_total",
			Help:      "Total number of timeline entries appended",
		}, []string{"kind"}),

		SubmissionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of answer submissions sent to the collaborator",
		}, []string{"kind", "result"}),
		SubmissionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_rejected_total",
			Help:      "Total number of submissions rejected before reaching the collaborator",
		}, []string{"reason"}),
		SubmissionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_latency_seconds",
			Help:      "Collaborator round-trip latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),

		PlaybackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_total",
			Help:      "Total number of assistant audio clips by outcome",
		}, []string{"result"}),
		PlaybackSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_skipped_total",
			Help:      "Total number of redundant play requests ignored",
		}),
		PlaybackDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_duration_seconds",
			Help:      "Time from play request to end of clip",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),

		RecordingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Total number of voice recordings by outcome",
		}, []string{"result"}),
		RecordedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_bytes_total",
			Help:      "Total audio bytes captured from the microphone",
		}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of finished recordings in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		RecorderLimitsHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_limit_exceeded_total",
			Help:      "Total number of recordings aborted by a capture limit",
		}, []string{"limit_type"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests served",
		}, []string{"route", "code"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordSessionStart records a new session.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session leaving the active set.
func (m *Metrics) RecordSessionEnd(completed bool) {
	m.SessionsActive.Dec()
	if completed {
		m.SessionsDone.Inc()
	} else {
		m.SessionsReset.Inc()
	}
}

func (m *Metrics) RecordStepAccepted() {
	m.StepsAccepted.Inc()
}

func (m *Metrics) RecordDuplicatePayload() {
	m.PayloadsDuplicate.Inc()
}

func (m *Metrics) RecordStaleResponse() {
	m.StaleResponses.Inc()
}

func (m *Metrics) RecordTimelineEntry(kind string) {
	m.TimelineEntries.WithLabelValues(kind).Inc()
}

// RecordSubmission records a collaborator round trip.
func (m *Metrics) RecordSubmission(kind string, err error, latencySeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SubmissionsTotal.WithLabelValues(kind, result).Inc()
	m.SubmissionLatency.WithLabelValues(kind).Observe(latencySeconds)
}

func (m *Metrics) RecordSubmissionRejected(reason string) {
	m.SubmissionsRejected.WithLabelValues(reason).Inc()
}

// RecordPlayback records a finished, failed or cancelled clip.
func (m *Metrics) RecordPlayback(result string, durationSeconds float64) {
	m.PlaybackTotal.WithLabelValues(result).Inc()
	if result == "ended" {
		m.PlaybackDuration.Observe(durationSeconds)
	}
}

func (m *Metrics) RecordPlaybackSkipped() {
	m.PlaybackSkipped.Inc()
}

// RecordRecording records the outcome of one microphone capture.
func (m *Metrics) RecordRecording(result string, bytes int64, durationSeconds float64) {
	m.RecordingsTotal.WithLabelValues(result).Inc()
	m.RecordedBytes.Add(float64(bytes))
	if result == "stopped" {
		m.RecordingDuration.Observe(durationSeconds)
	}
}

func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.RecorderLimitsHits.WithLabelValues(limitType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

func (m *Metrics) RecordHTTPRequest(route, code string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latencySeconds)
}
