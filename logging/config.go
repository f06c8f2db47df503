package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Config controls the router queue, severity filter and sink wiring.
type Config struct {
	EnabledSinks []string
	// BufferSize is the length of the router's shared queue.
	BufferSize int
	// SinkBufferSize is the per-sink queue length. Zero derives it from
	// BufferSize.
	SinkBufferSize   int
	MinimumSeverity  Severity
	Fields           map[string]any
	JSON             JSONConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

const (
	defaultBufferSize = 512
	minSinkBuffer     = 32
	maxSinkBuffer     = 1024
)

var knownSinks = []string{"console", "json"}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       defaultBufferSize,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

// Validate reports settings the router cannot honour.
func (c Config) Validate() error {
	if c.BufferSize < 0 {
		return fmt.Errorf("log buffer size %d is negative", c.BufferSize)
	}
	if c.SinkBufferSize < 0 {
		return fmt.Errorf("log sink buffer size %d is negative", c.SinkBufferSize)
	}
	if c.MinimumSeverity < SeverityDebug || c.MinimumSeverity > SeverityError {
		return fmt.Errorf("unknown minimum severity %d", c.MinimumSeverity)
	}
	for _, sink := range c.EnabledSinks {
		if !slices.Contains(knownSinks, sink) {
			return fmt.Errorf("unknown log sink %q", sink)
		}
	}
	if c.HasSink("json") && c.JSON.FilePath == "" {
		return fmt.Errorf("json log sink requires a file path")
	}
	return nil
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	return maps.Clone(c.Fields)
}

func (c Config) queueSize() int {
	if c.BufferSize <= 0 {
		return defaultBufferSize
	}
	return c.BufferSize
}

func (c Config) sinkQueueSize() int {
	if c.SinkBufferSize > 0 {
		return c.SinkBufferSize
	}
	return min(max(c.queueSize(), minSinkBuffer), maxSinkBuffer)
}

// ParseSeverity maps a level name such as "warn" to its Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown log level %q", name)
	}
}
