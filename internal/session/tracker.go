// Package session counts live client connections.
package session

import (
	"context"
	"errors"
	"sync"

	"scenehub/server/internal/telemetry"
	"scenehub/server/logging"
	"scenehub/server/logging/lifecycle"
	"scenehub/server/logging/network"
)

// ErrCapacity is returned by OnConnect when the connection cap is reached.
var ErrCapacity = errors.New("connection limit reached")

// Config tunes a Tracker.
type Config struct {
	// MaxConnections caps concurrent sessions. Zero or negative disables the cap.
	MaxConnections int
	Logger         telemetry.Logger
	Publisher      logging.Publisher
	Metrics        telemetry.Metrics
}

// Tracker keeps a non-negative count of live sessions. It holds no scene state.
type Tracker struct {
	mu        sync.Mutex
	count     int
	limit     int
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

func NewTracker(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.WrapMetrics(nil)
	}
	limit := cfg.MaxConnections
	if limit < 0 {
		limit = 0
	}
	return &Tracker{logger: logger, publisher: publisher, metrics: metrics, limit: limit}
}

// OnConnect records a new session for clientID and returns the new total.
func (t *Tracker) OnConnect(ctx context.Context, clientID string) (int, error) {
	t.mu.Lock()
	if t.limit > 0 && t.count >= t.limit {
		total := t.count
		t.mu.Unlock()
		t.logger.Printf("Client refused: %d/%d connections in use", total, t.limit)
		lifecycle.ClientRefused(ctx, t.publisher, logging.ClientRef(clientID), lifecycle.ConnectionPayload{Total: total, Limit: t.limit})
		return total, ErrCapacity
	}
	t.count++
	total := t.count
	t.mu.Unlock()

	t.metrics.Store(telemetry.MetricConnections, uint64(total))
	t.logger.Printf("Client connected: %d total connections", total)
	lifecycle.ClientConnected(ctx, t.publisher, logging.ClientRef(clientID), lifecycle.ConnectionPayload{Total: total, Limit: t.limit})
	return total, nil
}

// OnDisconnect records the end of a session and returns the new total. The
// count never goes below zero; an unmatched disconnect is reported as a
// protocol violation instead.
func (t *Tracker) OnDisconnect(ctx context.Context, clientID string) int {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		t.logger.Printf("Client disconnect with no live connections (client=%s)", clientID)
		network.ProtocolViolation(ctx, t.publisher, logging.ClientRef(clientID), network.ViolationPayload{
			Event:  "disconnect",
			Detail: "connection count already zero",
		})
		return 0
	}
	t.count--
	total := t.count
	t.mu.Unlock()

	t.metrics.Store(telemetry.MetricConnections, uint64(total))
	t.logger.Printf("Client disconnected: %d total connections", total)
	lifecycle.ClientDisconnected(ctx, t.publisher, logging.ClientRef(clientID), lifecycle.ConnectionPayload{Total: total, Limit: t.limit})
	return total
}

// Count reports the live session total.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Limit reports the configured cap, zero when unlimited.
func (t *Tracker) Limit() int {
	return t.limit
}
