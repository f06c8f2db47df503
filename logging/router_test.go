package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"scenehub/server/logging"
	"scenehub/server/logging/sinks"
)

type failingSink struct {
	closed bool
}

func (s *failingSink) Write(logging.Event) error { return errors.New("disk full") }

func (s *failingSink) Close(context.Context) error {
	s.closed = true
	return nil
}

func fixedClock() logging.Clock {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return logging.ClockFunc(func() time.Time { return stamp })
}

func TestRouterDeliversToEverySink(t *testing.T) {
	first := sinks.NewMemory()
	second := sinks.NewMemory()
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"service": "scenehub"}

	router := logging.NewRouter(fixedClock(), cfg, log.New(&bytes.Buffer{}, "", 0), []logging.NamedSink{
		{Name: "first", Sink: first},
		{Name: "second", Sink: second},
	})

	router.Publish(context.Background(), logging.Event{Type: "scene.object_added", Severity: logging.SeverityInfo})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	for name, sink := range map[string]*sinks.Memory{"first": first, "second": second} {
		events := sink.Events()
		if len(events) != 1 {
			t.Fatalf("%s: expected 1 event, got %d", name, len(events))
		}
		if events[0].Time.IsZero() {
			t.Fatalf("%s: expected router to stamp time", name)
		}
		if events[0].Extra["service"] != "scenehub" {
			t.Fatalf("%s: expected default fields in extra, got %v", name, events[0].Extra)
		}
	}
	if stats := router.Stats(); stats.EventsTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if router.Sink("first") != first {
		t.Fatalf("expected Sink lookup to return the registered sink")
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	sink := sinks.NewMemory()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn

	router := logging.NewRouter(fixedClock(), cfg, nil, []logging.NamedSink{{Name: "memory", Sink: sink}})
	router.Publish(context.Background(), logging.Event{Type: "scene.update_missed", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "storage.persist_failed", Severity: logging.SeverityError})
	router.Close(context.Background())

	events := sink.Events()
	if len(events) != 1 || events[0].Type != "storage.persist_failed" {
		t.Fatalf("expected only the error event, got %+v", events)
	}
}

func TestRouterCountsDropsWhenQueueIsFull(t *testing.T) {
	release := make(chan struct{})
	stalled := logging.ClockFunc(func() time.Time {
		<-release
		return time.Now()
	})
	cfg := logging.DefaultConfig()
	cfg.BufferSize = 1

	router := logging.NewRouter(stalled, cfg, log.New(&bytes.Buffer{}, "", 0), []logging.NamedSink{{Name: "memory", Sink: sinks.NewMemory()}})
	for i := 0; i < 10; i++ {
		router.Publish(context.Background(), logging.Event{Type: "network.broadcast_dropped"})
	}
	close(release)

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	// At most one event is held by the stalled forwarder and one by the queue.
	if stats := router.Stats(); stats.DroppedTotal < 8 {
		t.Fatalf("expected at least 8 drops, got %+v", stats)
	}
}

func TestRouterIgnoresUntypedAndLateEvents(t *testing.T) {
	sink := sinks.NewMemory()
	router := logging.NewRouter(nil, logging.DefaultConfig(), nil, []logging.NamedSink{{Name: "memory", Sink: sink}})

	router.Publish(context.Background(), logging.Event{})
	router.Close(context.Background())
	router.Publish(context.Background(), logging.Event{Type: "client.connected"})

	if got := len(sink.Events()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestRouterClosesFailingSink(t *testing.T) {
	sink := &failingSink{}
	var fallback bytes.Buffer
	router := logging.NewRouter(fixedClock(), logging.DefaultConfig(), log.New(&fallback, "", 0), []logging.NamedSink{{Name: "failing", Sink: sink}})

	router.Publish(context.Background(), logging.Event{Type: "scene.loaded", Severity: logging.SeverityInfo})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
	if !bytes.Contains(fallback.Bytes(), []byte("sink failing failed")) {
		t.Fatalf("expected failure on fallback logger, got %q", fallback.String())
	}
}

func TestWithFieldsKeepsEventValues(t *testing.T) {
	sink := sinks.NewMemory()
	pub := logging.WithFields(sink, map[string]any{"region": "eu", "actor": "default"})

	event := logging.Event{Type: "client.connected"}.WithExtra("actor", "explicit")
	pub.Publish(context.Background(), event)

	got := sink.Events()[0].Extra
	if got["region"] != "eu" || got["actor"] != "explicit" {
		t.Fatalf("unexpected extra %v", got)
	}
	if event.Extra["region"] != nil {
		t.Fatalf("WithFields must not mutate the caller's event")
	}
}
