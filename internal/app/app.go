// Package app wires the conversation engine, its media devices and the
// HTTP surfaces from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"soil-assistant-client/internal/config"
	"soil-assistant-client/internal/events"
	apihttp "soil-assistant-client/internal/http"
	"soil-assistant-client/internal/observability"
	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
	"soil-assistant-client/internal/service/capture"
	"soil-assistant-client/internal/service/conversation"
	"soil-assistant-client/internal/service/gateway"
	"soil-assistant-client/internal/service/gateway/mock"
	"soil-assistant-client/internal/service/playback"
)

var errNotStarted = errors.New("application not started")

// Application holds process-wide state for the client.
type Application struct {
	StartupTime  time.Time
	Logger       zerolog.Logger
	Cfg          *config.Config
	Conversation *conversation.Orchestrator

	metrics   *metrics.Metrics
	publisher *events.Publisher
	relay     *events.Relay
	hub       *apihttp.Hub
	api       *http.Server
	obs       *observability.Server
	ready     atomic.Bool
}

// New constructs the application. Nothing is started until Run.
func New(cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Logger:  logging.WithComponent("application"),
		metrics: metrics.DefaultMetrics,
	}

	gw, err := a.newGateway()
	if err != nil {
		return nil, err
	}

	player := playback.NewCoordinator(a.newPlayer(),
		playback.WithLogger(logging.WithComponent("playback")),
		playback.WithMetrics(a.metrics),
	)
	recorder := capture.NewRecorder(a.newMicrophone(),
		capture.WithLimits(capture.Limits{
			MaxAudioBytes: cfg.Recorder.MaxBytes,
			MaxDuration:   cfg.Recorder.MaxDuration,
		}),
		capture.WithChunkBytes(cfg.Recorder.ChunkBytes),
		capture.WithLogger(logging.WithComponent("capture")),
		capture.WithMetrics(a.metrics),
	)

	a.Conversation = conversation.New(gw,
		conversation.WithPlayback(player),
		conversation.WithRecorder(recorder),
		conversation.WithDefaultLanguage(cfg.Session.Language),
		conversation.WithHelpPhrases(cfg.Session.HelpPhrases()),
		conversation.WithMetrics(a.metrics),
	)

	a.publisher = events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicTimeline: cfg.Kafka.TopicTimeline,
		TopicSteps:    cfg.Kafka.TopicSteps,
		Principal:     cfg.Kafka.Principal,
	}, events.WithMetrics(a.metrics))
	a.relay = events.NewRelay(a.publisher, 0)
	a.Conversation.Subscribe(a.relay.Handle)

	a.hub = apihttp.NewHub(logging.WithComponent("events-stream"))
	a.Conversation.Subscribe(a.hub.Broadcast)

	a.api = &http.Server{
		Addr: cfg.Service.HTTPAddr,
		Handler: apihttp.NewRouter(a.Conversation,
			apihttp.WithHub(a.hub),
			apihttp.WithReadiness(a.Ready),
			apihttp.WithMaxUploadBytes(cfg.Recorder.MaxBytes),
			apihttp.WithMetrics(a.metrics),
		),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.obs = observability.NewServer(cfg.Observability.MetricsAddr,
		observability.WithReadiness(a.Ready),
	)

	a.Logger.Info().
		Str("collaborator", cfg.Collaborator.Mode).
		Str("recorder", cfg.Recorder.Mode).
		Str("playback", cfg.Playback.Mode).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("Soil assistant application created")
	return a, nil
}

func (a *Application) newGateway() (gateway.Gateway, error) {
	if a.Cfg.Collaborator.Mode == "mock" {
		return mock.New(), nil
	}
	client, err := gateway.NewClient(gateway.Config{
		BaseURL:  a.Cfg.Collaborator.BaseURL,
		Timeout:  a.Cfg.Collaborator.Timeout,
		Validate: a.Cfg.Collaborator.Validate,
	})
	if err != nil {
		return nil, fmt.Errorf("collaborator client: %w", err)
	}
	return client, nil
}

func (a *Application) newPlayer() playback.Player {
	if a.Cfg.Playback.Mode == "none" {
		return playback.SilentPlayer{}
	}
	return playback.NewFFPlayPlayer(playback.FFPlayConfig{
		Path:         a.Cfg.Playback.FFPlayPath,
		Volume:       a.Cfg.Playback.Volume,
		FetchTimeout: a.Cfg.Playback.FetchTimeout,
	})
}

func (a *Application) newMicrophone() capture.Microphone {
	if a.Cfg.Recorder.Mode == "none" {
		return capture.NoMicrophone{}
	}
	return capture.NewCommandMicrophone(capture.CommandConfig{
		Command:          a.Cfg.Recorder.Command,
		Args:             a.Cfg.Recorder.Args,
		MimeType:         a.Cfg.Recorder.MimeType,
		FallbackMimeType: a.Cfg.Recorder.FallbackMimeType,
		StopGrace:        a.Cfg.Recorder.StopGrace,
	})
}

// Handler returns the UI-facing router.
func (a *Application) Handler() http.Handler {
	return a.api.Handler
}

// Ready reports whether Run has brought the servers up.
func (a *Application) Ready(context.Context) error {
	if !a.ready.Load() {
		return errNotStarted
	}
	return nil
}

// Run serves the UI and observability endpoints and the event fan-out
// until ctx is done or one of them fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("addr", a.Cfg.Service.HTTPAddr).
		Msg("Soil assistant starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.relay.Run(gctx) })
	g.Go(func() error { return a.obs.Run(gctx) })
	g.Go(func() error {
		if err := a.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.api.Shutdown(shutdownCtx)
	})
	a.ready.Store(true)

	err := g.Wait()
	a.Shutdown()
	return err
}

// Shutdown releases the media devices and the Kafka writers.
func (a *Application) Shutdown() {
	a.Logger.Info().Msg("Soil assistant shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Conversation.Close(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Error releasing media devices")
	}
	if err := a.publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Error closing event publisher")
	}
}
