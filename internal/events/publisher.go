// Package events publishes conversation history to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"soil-assistant-client/internal/observability/logging"
	"soil-assistant-client/internal/observability/metrics"
)

const (
	EventTypeTimelineEntry = "conversation.timeline.entry"
	EventTypeStepCompleted = "conversation.step.completed"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes timeline entries and step completions to separate
// Kafka topics. When disabled it only logs.
type Publisher struct {
	writerTimeline messageWriter
	writerSteps    messageWriter
	principal      string
	topicTimeline  string
	topicSteps     string
	enabled        bool
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicTimeline string
	TopicSteps    string
	Principal     string
	Enabled       bool
}

type Option func(*Publisher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New creates a publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher.
func New(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{
		logger:  logging.WithComponent("events"),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg == nil {
		p.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}
	p.principal = cfg.Principal
	p.topicTimeline = cfg.TopicTimeline
	p.topicSteps = cfg.TopicSteps

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.writerTimeline = newWriter(cfg.Brokers, cfg.TopicTimeline, transport)
	p.writerSteps = newWriter(cfg.Brokers, cfg.TopicSteps, transport)
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTimeline", cfg.TopicTimeline).
		Str("topicSteps", cfg.TopicSteps).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Principal is the identity stamped on every published event.
func (p *Publisher) Principal() string {
	return p.principal
}

// PublishTimelineEntry publishes to the timeline topic. Events are keyed by
// session so a session's history stays ordered within one partition.
func (p *Publisher) PublishTimelineEntry(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerTimeline, p.topicTimeline, EventTypeTimelineEntry, key, event)
}

// PublishStepCompleted publishes to the steps topic.
func (p *Publisher) PublishStepCompleted(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerSteps, p.topicSteps, EventTypeStepCompleted, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTimeline != nil {
		if e := p.writerTimeline.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing timeline writer")
			err = e
		}
	}
	if p.writerSteps != nil {
		if e := p.writerSteps.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing steps writer")
			err = e
		}
	}
	return err
}
