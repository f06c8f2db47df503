// Package config loads server settings from SCENEHUB_* environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"scenehub/server/internal/store"
	"scenehub/server/logging"
)

type Config struct {
	Host           string   `env:"SCENEHUB_HOST" envDefault:"0.0.0.0"`
	Port           int      `env:"SCENEHUB_PORT" envDefault:"5000"`
	AllowedOrigins []string `env:"SCENEHUB_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`

	Store          string        `env:"SCENEHUB_STORE" envDefault:"file"`
	StatePath      string        `env:"SCENEHUB_STATE_PATH" envDefault:"scene.json"`
	PersistTimeout time.Duration `env:"SCENEHUB_PERSIST_TIMEOUT" envDefault:"5s"`

	MaxConnections         int  `env:"SCENEHUB_MAX_CONNECTIONS" envDefault:"0"`
	BroadcastIncludeSender bool `env:"SCENEHUB_BROADCAST_INCLUDE_SENDER" envDefault:"false"`
	SendBuffer             int  `env:"SCENEHUB_SEND_BUFFER" envDefault:"64"`

	LogSinks      []string `env:"SCENEHUB_LOG_SINKS" envSeparator:"," envDefault:"console"`
	LogJSONPath   string   `env:"SCENEHUB_LOG_JSON_PATH"`
	LogLevel      string   `env:"SCENEHUB_LOG_LEVEL" envDefault:"info"`
	LogBuffer     int      `env:"SCENEHUB_LOG_BUFFER" envDefault:"512"`
	LogSinkBuffer int      `env:"SCENEHUB_LOG_SINK_BUFFER" envDefault:"0"`

	OTelEndpoint string `env:"SCENEHUB_OTEL_ENDPOINT"`
	EnablePprof  bool   `env:"SCENEHUB_ENABLE_PPROF" envDefault:"false"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Store {
	case store.BackendFile, store.BackendSQLite:
	default:
		return fmt.Errorf("unsupported store backend %q", c.Store)
	}
	if strings.TrimSpace(c.StatePath) == "" {
		return fmt.Errorf("state path is empty")
	}
	if c.PersistTimeout < 0 {
		return fmt.Errorf("persist timeout %s is negative", c.PersistTimeout)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections %d is negative", c.MaxConnections)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	if _, err := c.Logging(); err != nil {
		return err
	}
	return nil
}

// Logging translates the SCENEHUB_LOG_* settings into a router config.
func (c Config) Logging() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	if len(c.LogSinks) > 0 {
		cfg.EnabledSinks = c.LogSinks
	}
	cfg.JSON.FilePath = c.LogJSONPath
	cfg.BufferSize = c.LogBuffer
	cfg.SinkBufferSize = c.LogSinkBuffer
	severity, err := logging.ParseSeverity(c.LogLevel)
	if err != nil {
		return logging.Config{}, err
	}
	cfg.MinimumSeverity = severity
	cfg.Fields = map[string]any{"service": "scenehub"}
	if err := cfg.Validate(); err != nil {
		return logging.Config{}, fmt.Errorf("log settings: %w", err)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
