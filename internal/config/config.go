// Package config provides the configuration structure for the tts-gateway.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Defaults.
const (
	DefaultHost                   = "localhost"
	DefaultPort                   = 8000
	DefaultReadLimitBytes         = 16 << 20
	DefaultShutdownTimeoutSeconds = 10
	DefaultBackend                = "stub"
	DefaultServiceURL             = "http://127.0.0.1:8001"
	DefaultTimeoutSeconds         = 300
	DefaultWorkers                = 1
	DefaultMaxChars               = 500
	DefaultSubject                = "tts.jobs"
	DefaultTextBucket             = "TEXT_FILES"
	DefaultAudioBucket            = "AUDIO_FILES"
	maxPort                       = 65535
)

var (
	// ErrInvalidPort indicates a port outside 1..65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrInvalidWorkers indicates a non-positive inference pool size.
	ErrInvalidWorkers = errors.New("inference workers must be positive")
	// ErrInvalidMaxChars indicates a non-positive text limit.
	ErrInvalidMaxChars = errors.New("text max_chars must be positive")
)

// ServerConfig holds the listening endpoint.
type ServerConfig struct {
	Host                   string `toml:"host"                     env:"HOST"`
	Port                   int    `toml:"port"                     env:"PORT"`
	ReadLimitBytes         int64  `toml:"read_limit_bytes"         env:"READ_LIMIT_BYTES"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
}

// ModelConfig selects the synthesis backend.
type ModelConfig struct {
	Backend        string `toml:"backend"         env:"BACKEND"`
	ServiceURL     string `toml:"service_url"     env:"SERVICE_URL"`
	Command        string `toml:"command"         env:"COMMAND"`
	Device         string `toml:"device"          env:"DEVICE"`
	SampleRate     int    `toml:"sample_rate"     env:"SAMPLE_RATE"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

// InferenceConfig sizes the inference pool.
type InferenceConfig struct {
	Workers int `toml:"workers" env:"WORKERS"`
}

// TextConfig tunes request text handling.
type TextConfig struct {
	MaxChars  int  `toml:"max_chars" env:"MAX_CHARS"`
	Normalize bool `toml:"normalize" env:"NORMALIZE"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir" env:"BASE_LOGS_DIR"`
	TempDir     string `toml:"temp_dir"      env:"TEMP_DIR"`
}

// NATSConfig holds the configuration for the optional job bridge. The bridge
// is disabled when URL is empty.
type NATSConfig struct {
	URL         string `toml:"url"          env:"URL"`
	Subject     string `toml:"subject"      env:"SUBJECT"`
	TextBucket  string `toml:"text_bucket"  env:"TEXT_BUCKET"`
	AudioBucket string `toml:"audio_bucket" env:"AUDIO_BUCKET"`
}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"    envPrefix:"TTS_SERVER_"`
	Model     ModelConfig     `toml:"model"     envPrefix:"TTS_MODEL_"`
	Inference InferenceConfig `toml:"inference" envPrefix:"TTS_INFERENCE_"`
	Text      TextConfig      `toml:"text"      envPrefix:"TTS_TEXT_"`
	Paths     PathsConfig     `toml:"paths"     envPrefix:"TTS_PATHS_"`
	NATS      NATSConfig      `toml:"nats"      envPrefix:"TTS_NATS_"`
}

// Default returns the configuration used for every value the sources omit.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   DefaultHost,
			Port:                   DefaultPort,
			ReadLimitBytes:         DefaultReadLimitBytes,
			ShutdownTimeoutSeconds: DefaultShutdownTimeoutSeconds,
		},
		Model: ModelConfig{
			Backend:        DefaultBackend,
			ServiceURL:     DefaultServiceURL,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Inference: InferenceConfig{Workers: DefaultWorkers},
		Text:      TextConfig{MaxChars: DefaultMaxChars},
		NATS: NATSConfig{
			Subject:     DefaultSubject,
			TextBucket:  DefaultTextBucket,
			AudioBucket: DefaultAudioBucket,
		},
	}
}

// Load builds the configuration from defaults, project.toml found by the
// central configurator, an optional .env file and TTS_* environment
// variables, in that order.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(cfg, log)
}

// Parse builds the configuration from TOML data instead of project.toml.
func Parse(data []byte, log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return finish(cfg, log)
}

func finish(cfg *Config, log *logger.Logger) (*Config, error) {
	dotenvErr := godotenv.Load()
	if dotenvErr == nil {
		log.Info("Loaded environment from .env")
	}

	envErr := env.Parse(cfg)
	if envErr != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", envErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.Inference.Workers <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Inference.Workers)
	}

	if c.Text.MaxChars <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxChars, c.Text.MaxChars)
	}

	return nil
}

// Address returns host:port of the listening endpoint.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ModelTimeout returns the per-call timeout for the HTTP backend.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// BridgeEnabled reports whether the NATS job bridge should run.
func (c *Config) BridgeEnabled() bool {
	return c.NATS.URL != ""
}
