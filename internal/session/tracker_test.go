package session

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenehub/server/internal/telemetry"
	"scenehub/server/logging/lifecycle"
	"scenehub/server/logging/network"
	"scenehub/server/logging/sinks"
)

func TestConnectDisconnectCounts(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tracker := NewTracker(Config{Logger: telemetry.WrapLogger(log.New(&buf, "", 0))})

	total, err := tracker.OnConnect(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	total, err = tracker.OnConnect(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	assert.Equal(t, 1, tracker.OnDisconnect(ctx, "a"))
	assert.Equal(t, 1, tracker.Count())
	assert.Equal(t, "Client connected: 1 total connections\n"+
		"Client connected: 2 total connections\n"+
		"Client disconnected: 1 total connections\n", buf.String())
}

func TestDisconnectClampsAtZero(t *testing.T) {
	ctx := context.Background()
	memory := sinks.NewMemory()
	tracker := NewTracker(Config{Publisher: memory})

	_, err := tracker.OnConnect(ctx, "a")
	require.NoError(t, err)
	tracker.OnDisconnect(ctx, "a")

	assert.Equal(t, 0, tracker.OnDisconnect(ctx, "a"))
	assert.Equal(t, 0, tracker.Count())

	violations := memory.EventsOfType(network.EventProtocolViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, "a", violations[0].Actor.ID)
}

func TestConnectionCap(t *testing.T) {
	ctx := context.Background()
	memory := sinks.NewMemory()
	tracker := NewTracker(Config{MaxConnections: 2, Publisher: memory})

	for _, id := range []string{"a", "b"} {
		_, err := tracker.OnConnect(ctx, id)
		require.NoError(t, err)
	}
	total, err := tracker.OnConnect(ctx, "c")
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 2, total)
	assert.Len(t, memory.EventsOfType(lifecycle.EventClientRefused), 1)

	tracker.OnDisconnect(ctx, "a")
	_, err = tracker.OnConnect(ctx, "c")
	assert.NoError(t, err)
}

func TestConcurrentConnectsNeverLoseCounts(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.OnConnect(ctx, "c")
			tracker.OnDisconnect(ctx, "c")
			tracker.OnConnect(ctx, "c")
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, tracker.Count())
}
