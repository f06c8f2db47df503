package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scenehub/server/internal/net/proto"
	"scenehub/server/internal/router"
	"scenehub/server/internal/scene"
	"scenehub/server/internal/session"
	"scenehub/server/internal/store"
)

func newTestServer(t *testing.T, maxConnections int, origins []string) (*httptest.Server, *router.Router) {
	t.Helper()
	srv, r, _ := newTestServerWithHandler(t, maxConnections, origins)
	return srv, r
}

func newTestServerWithHandler(t *testing.T, maxConnections int, origins []string) (*httptest.Server, *router.Router, *Handler) {
	t.Helper()

	registry := scene.NewRegistry(store.NewMemory(), scene.Options{})
	if err := registry.Load(t.Context()); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}
	tracker := session.NewTracker(session.Config{MaxConnections: maxConnections})
	r := router.New(router.Config{Registry: registry, Sessions: tracker})

	handler := NewHandler(r, HandlerConfig{AllowedOrigins: origins})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(func() {
		handler.Close(context.Background())
		srv.Close()
	})
	return srv, r, handler
}

func dial(t *testing.T, baseURL string, header http.Header) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, baseURL), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func websocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/ws"
	return parsed.String()
}

func send(t *testing.T, conn *websocket.Conn, msgType string, seq uint64, data any) {
	t.Helper()

	envelope := map[string]any{"ver": proto.Version, "type": msgType}
	if seq > 0 {
		envelope["seq"] = seq
	}
	if data != nil {
		envelope["data"] = data
	}
	if err := conn.WriteJSON(envelope); err != nil {
		t.Fatalf("failed to write %s: %v", msgType, err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	return frame
}

// syncScene round-trips a scene_data request, which also proves the connection
// has been registered with the router.
func syncScene(t *testing.T, conn *websocket.Conn) []any {
	t.Helper()

	send(t, conn, proto.TypeSceneData, 0, nil)
	frame := receive(t, conn)
	if frame["type"] != proto.TypeSceneData {
		t.Fatalf("expected %s reply, got %v", proto.TypeSceneData, frame["type"])
	}
	data, ok := frame["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected scene payload object, got %T", frame["data"])
	}
	objects, ok := data["objects"].([]any)
	if !ok {
		t.Fatalf("expected objects array, got %T", data["objects"])
	}
	return objects
}

func TestHandleSceneDataRepliesWithEmptyScene(t *testing.T) {
	srv, _ := newTestServer(t, 0, nil)
	conn := dial(t, srv.URL, nil)

	if objects := syncScene(t, conn); len(objects) != 0 {
		t.Fatalf("expected empty scene, got %v", objects)
	}
}

func TestHandleBroadcastSkipsSender(t *testing.T) {
	srv, r := newTestServer(t, 0, nil)
	sender := dial(t, srv.URL, nil)
	peer := dial(t, srv.URL, nil)
	syncScene(t, sender)
	syncScene(t, peer)

	if got := r.Clients(); got != 2 {
		t.Fatalf("expected 2 registered clients, got %d", got)
	}

	send(t, sender, proto.TypeAddObject, 1, map[string]any{"id": 1, "pos": []int{0, 0, 0}})

	ack := receive(t, sender)
	if ack["type"] != proto.TypeCommandAck {
		t.Fatalf("expected sender to receive ack first, got %v", ack["type"])
	}
	if ack["event"] != proto.TypeAddObject {
		t.Fatalf("expected ack for %s, got %v", proto.TypeAddObject, ack["event"])
	}

	added := receive(t, peer)
	if added["type"] != proto.TypeObjectAdded {
		t.Fatalf("expected peer to receive %s, got %v", proto.TypeObjectAdded, added["type"])
	}
	obj, ok := added["data"].(map[string]any)
	if !ok || obj["id"] != float64(1) {
		t.Fatalf("expected broadcast object with id 1, got %v", added["data"])
	}

	if objects := syncScene(t, peer); len(objects) != 1 {
		t.Fatalf("expected one object in scene, got %v", objects)
	}
}

func TestHandleSceneScenario(t *testing.T) {
	srv, _ := newTestServer(t, 0, nil)
	editor := dial(t, srv.URL, nil)
	viewer := dial(t, srv.URL, nil)
	syncScene(t, editor)
	syncScene(t, viewer)

	send(t, editor, proto.TypeAddObject, 0, map[string]any{"id": 1, "pos": []int{0, 0, 0}})
	if frame := receive(t, viewer); frame["type"] != proto.TypeObjectAdded {
		t.Fatalf("expected %s, got %v", proto.TypeObjectAdded, frame["type"])
	}

	send(t, editor, proto.TypeUpdateObject, 0, map[string]any{"id": 1, "pos": []int{1, 2, 3}})
	if frame := receive(t, viewer); frame["type"] != proto.TypeObjectUpdated {
		t.Fatalf("expected %s, got %v", proto.TypeObjectUpdated, frame["type"])
	}

	objects := syncScene(t, viewer)
	if len(objects) != 1 {
		t.Fatalf("expected one object after update, got %v", objects)
	}
	pos, _ := objects[0].(map[string]any)["pos"].([]any)
	if len(pos) != 3 || pos[0] != float64(1) || pos[1] != float64(2) || pos[2] != float64(3) {
		t.Fatalf("expected updated position [1 2 3], got %v", pos)
	}

	send(t, editor, proto.TypeRemoveObject, 0, map[string]any{"id": 1, "pos": []int{1, 2, 3}})
	if frame := receive(t, viewer); frame["type"] != proto.TypeObjectRemoved {
		t.Fatalf("expected %s, got %v", proto.TypeObjectRemoved, frame["type"])
	}
	if objects := syncScene(t, viewer); len(objects) != 0 {
		t.Fatalf("expected empty scene after remove, got %v", objects)
	}
}

func TestHandleRejectsMalformedFrame(t *testing.T) {
	srv, _ := newTestServer(t, 0, nil)
	conn := dial(t, srv.URL, nil)
	syncScene(t, conn)

	send(t, conn, proto.TypeAddObject, 7, map[string]any{"pos": []int{0, 0, 0}})

	frame := receive(t, conn)
	if frame["type"] != proto.TypeCommandReject {
		t.Fatalf("expected %s, got %v", proto.TypeCommandReject, frame["type"])
	}
	if frame["reason"] != proto.ReasonMalformedPayload {
		t.Fatalf("expected reason %q, got %v", proto.ReasonMalformedPayload, frame["reason"])
	}
	if frame["seq"] != float64(7) {
		t.Fatalf("expected seq 7, got %v", frame["seq"])
	}
}

func TestHandleRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newTestServer(t, 0, []string{"http://localhost:3000"})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err == nil {
		conn.Close()
		t.Fatalf("expected handshake to fail for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 response, got %v", resp)
	}

	header.Set("Origin", "http://LOCALHOST:3000")
	allowed := dial(t, srv.URL, header)
	syncScene(t, allowed)
}

func TestHandleClosesConnectionsBeyondLimit(t *testing.T) {
	srv, r := newTestServer(t, 1, nil)
	first := dial(t, srv.URL, nil)
	syncScene(t, first)

	second := dial(t, srv.URL, nil)
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := second.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater {
		t.Fatalf("expected close code %d, got %d", websocket.CloseTryAgainLater, closeErr.Code)
	}
	if got := r.Clients(); got != 1 {
		t.Fatalf("expected refused connection to stay unregistered, got %d clients", got)
	}
}

func TestOriginChecker(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin header", allowed: []string{"http://a"}, origin: "", want: true},
		{name: "exact match", allowed: []string{"http://a"}, origin: "http://a", want: true},
		{name: "case insensitive", allowed: []string{"http://A"}, origin: "http://a", want: true},
		{name: "trailing slash in config", allowed: []string{"http://a/"}, origin: "http://a", want: true},
		{name: "mismatch", allowed: []string{"http://a"}, origin: "http://b", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://b", want: true},
		{name: "empty allow list", allowed: nil, origin: "http://b", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := originChecker(tc.allowed)(req); got != tc.want {
				t.Fatalf("originChecker(%v)(%q) = %v, want %v", tc.allowed, tc.origin, got, tc.want)
			}
		})
	}
}

func TestHandlerCloseWaitsForReadLoops(t *testing.T) {
	srv, r, handler := newTestServerWithHandler(t, 0, nil)
	first := dial(t, srv.URL, nil)
	second := dial(t, srv.URL, nil)
	syncScene(t, first)
	syncScene(t, second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handler.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Every disconnect has been dispatched by the time Close returns.
	if got := r.Clients(); got != 0 {
		t.Fatalf("expected no registered clients after close, got %d", got)
	}

	late, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, srv.URL), nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial after close: %v", err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = late.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("expected going-away close for late session, got %v", err)
	}
}

func TestHandlerCloseHonoursDeadline(t *testing.T) {
	_, _, handler := newTestServerWithHandler(t, 0, nil)
	handler.active.Add(1)
	defer handler.active.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := handler.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
