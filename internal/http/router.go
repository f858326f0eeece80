// Package http exposes the conversation to a UI over HTTP and WebSocket.
package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"soil-assistant-client/internal/models"
	"soil-assistant-client/internal/observability"
	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
	"soil-assistant-client/internal/service/capture"
	"soil-assistant-client/internal/service/conversation"
	"soil-assistant-client/internal/service/playback"
	"soil-assistant-client/internal/service/step"
	"soil-assistant-client/internal/service/timeline"
)

// DefaultMaxUploadBytes bounds uploaded voice answers.
const DefaultMaxUploadBytes = 10 << 20

// Conversation is the orchestrator surface the router drives.
type Conversation interface {
	Start(ctx context.Context, language string) (conversation.Session, error)
	Session() (conversation.Session, bool)
	State() step.State
	Timeline() []timeline.Entry
	TimelineSince(seq uint64) []timeline.Entry
	SubmitText(ctx context.Context, text string) error
	SubmitAudio(ctx context.Context, blob *models.Blob) error
	RequestHelp(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	ClearRecording()
	Refresh(ctx context.Context) (models.SessionStateResponse, error)
	Reset()
	PlaybackState() playback.State
	RecordingState() capture.State
}

type routerOptions struct {
	hub            *Hub
	ready          observability.ReadinessFunc
	maxUploadBytes int64
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

type Option func(*routerOptions)

// WithHub serves the event stream at /v1/events.
func WithHub(h *Hub) Option {
	return func(o *routerOptions) { o.hub = h }
}

func WithReadiness(fn observability.ReadinessFunc) Option {
	return func(o *routerOptions) { o.ready = fn }
}

func WithMaxUploadBytes(n int64) Option {
	return func(o *routerOptions) { o.maxUploadBytes = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *routerOptions) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *routerOptions) { o.metrics = m }
}

// NewRouter constructs the UI-facing router.
func NewRouter(conv Conversation, opts ...Option) http.Handler {
	o := routerOptions{
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         logging.WithComponent("http"),
		metrics:        metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(&o)
	}
	h := &handlers{conv: conv, maxUploadBytes: o.maxUploadBytes, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestMetrics(o.metrics, o.logger))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if o.ready != nil {
			if err := o.ready(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/session", h.startSession)
		r.Get("/session", h.getSession)
		r.Get("/session/state", h.refreshSession)
		r.Get("/timeline", h.getTimeline)
		r.Post("/answers", h.submitText)
		r.Post("/answers/audio", h.submitAudio)
		r.Post("/help", h.requestHelp)
		r.Post("/recording/start", h.startRecording)
		r.Post("/recording/stop", h.stopRecording)
		r.Post("/recording/clear", h.clearRecording)
		r.Post("/reset", h.reset)
		if o.hub != nil {
			r.Handle("/events", o.hub)
		}
	})

	return r
}
