// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the root configuration for the soil assistant client.
type Config struct {
	Service       ServiceConfig
	Collaborator  CollaboratorConfig
	Session       SessionConfig
	Recorder      RecorderConfig
	Playback      PlaybackConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal string `env:"SERVICE_PRINCIPAL" envDefault:"svc-soil-assistant"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
}

// CollaboratorConfig points at the answer-processing service.
// Mode "mock" runs the scripted in-process collaborator instead.
type CollaboratorConfig struct {
	Mode     string        `env:"COLLABORATOR_MODE" envDefault:"mock"`
	BaseURL  string        `env:"COLLABORATOR_BASE_URL" envDefault:"http://localhost:8001/api/v1"`
	Timeout  time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"30s"`
	Validate bool          `env:"COLLABORATOR_VALIDATE" envDefault:"true"`
}

type SessionConfig struct {
	Language     string `env:"SESSION_LANGUAGE" envDefault:"en"`
	HelpPhraseEN string `env:"SESSION_HELP_PHRASE_EN" envDefault:"I don't know, I need help"`
	HelpPhraseHI string `env:"SESSION_HELP_PHRASE_HI" envDefault:"मदद चाहिए"`
}

// HelpPhrases returns the help request text keyed by language.
func (s SessionConfig) HelpPhrases() map[string]string {
	return map[string]string{
		"en": s.HelpPhraseEN,
		"hi": s.HelpPhraseHI,
	}
}

type RecorderConfig struct {
	Mode             string        `env:"RECORDER_MODE" envDefault:"command"`
	Command          string        `env:"RECORDER_COMMAND" envDefault:"arecord"`
	Args             []string      `env:"RECORDER_ARGS" envSeparator:" " envDefault:"-q -f S16_LE -r 16000 -c 1 -t wav"`
	MimeType         string        `env:"RECORDER_MIME_TYPE" envDefault:"audio/wav"`
	FallbackMimeType string        `env:"RECORDER_FALLBACK_MIME_TYPE" envDefault:"audio/webm"`
	ChunkBytes       int           `env:"RECORDER_CHUNK_BYTES" envDefault:"3200"`
	MaxBytes         int64         `env:"RECORDER_MAX_BYTES" envDefault:"10485760"`
	MaxDuration      time.Duration `env:"RECORDER_MAX_DURATION" envDefault:"2m"`
	StopGrace        time.Duration `env:"RECORDER_STOP_GRACE" envDefault:"2s"`
}

type PlaybackConfig struct {
	Mode         string        `env:"PLAYBACK_MODE" envDefault:"ffplay"`
	FFPlayPath   string        `env:"PLAYBACK_FFPLAY_PATH" envDefault:"ffplay"`
	Volume       int           `env:"PLAYBACK_VOLUME" envDefault:"80"`
	FetchTimeout time.Duration `env:"PLAYBACK_FETCH_TIMEOUT" envDefault:"15s"`
}

type KafkaConfig struct {
	Enabled       bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicTimeline string   `env:"KAFKA_TOPIC_TIMELINE" envDefault:"soil.conversation.timeline"`
	TopicSteps    string   `env:"KAFKA_TOPIC_STEPS" envDefault:"soil.conversation.steps"`
	Principal     string   `env:"KAFKA_PRINCIPAL"`
}

type ObservabilityConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load reads an optional .env file and parses the environment.
// Variables already present in the environment win over the .env file.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv paths. Missing files are skipped.
func LoadFiles(paths ...string) (*Config, error) {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Collaborator.Mode {
	case "http", "mock":
	default:
		return fmt.Errorf("invalid COLLABORATOR_MODE %q", c.Collaborator.Mode)
	}
	switch c.Recorder.Mode {
	case "command", "none":
	default:
		return fmt.Errorf("invalid RECORDER_MODE %q", c.Recorder.Mode)
	}
	switch c.Playback.Mode {
	case "ffplay", "none":
	default:
		return fmt.Errorf("invalid PLAYBACK_MODE %q", c.Playback.Mode)
	}
	if c.Recorder.ChunkBytes <= 0 {
		return fmt.Errorf("RECORDER_CHUNK_BYTES must be positive, got %d", c.Recorder.ChunkBytes)
	}
	return nil
}
