package ws

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"scenehub/server/internal/router"
	"scenehub/server/internal/session"
	"scenehub/server/internal/telemetry"
)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	Logger telemetry.Logger
	// AllowedOrigins lists browser origins permitted to connect. "*" allows
	// any origin. Requests without an Origin header are always accepted.
	AllowedOrigins []string
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
}

// Handler upgrades HTTP requests and feeds each connection's frames to the
// router.
type Handler struct {
	router     *router.Router
	logger     telemetry.Logger
	upgrader   websocket.Upgrader
	sendBuffer int

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	// active counts Handle calls past track; Close waits for it to drain.
	active sync.WaitGroup
}

func NewHandler(r *router.Router, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return &Handler{
		router:     r,
		logger:     logger,
		upgrader:   upgrader,
		sendBuffer: cfg.SendBuffer,
		sessions:   make(map[string]*Session),
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	sess := newSession(ulid.Make().String(), conn, h.sendBuffer)
	go sess.writePump()

	if !h.track(sess) {
		sess.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(sess)

	// The request context ends when this handler returns, which is exactly
	// the lifetime of the session.
	ctx := r.Context()

	if err := h.router.Dispatch(ctx, sess.ID(), router.Connect{Client: sess}); err != nil {
		if errors.Is(err, session.ErrCapacity) {
			sess.Close(websocket.CloseTryAgainLater, "connection limit reached")
		} else {
			h.logger.Printf("connect failed for %s: %v", sess.ID(), err)
			sess.Close(websocket.CloseInternalServerErr, "connect failed")
		}
		return
	}

	h.serve(ctx, sess)
}

func (h *Handler) serve(ctx context.Context, sess *Session) {
	sess.prepareRead()
	for {
		_, payload, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Printf("read failed for %s: %v", sess.ID(), err)
			}
			h.disconnect(ctx, sess)
			return
		}
		// Per-event failures have already been reported to the client.
		h.router.HandleFrame(ctx, sess.ID(), payload)
	}
}

func (h *Handler) disconnect(ctx context.Context, sess *Session) {
	if err := h.router.Dispatch(ctx, sess.ID(), router.Disconnect{}); err != nil {
		h.logger.Printf("disconnect for %s: %v", sess.ID(), err)
	}
	sess.Close(websocket.CloseNormalClosure, "")
}

func (h *Handler) track(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[sess.ID()] = sess
	h.active.Add(1)
	return true
}

func (h *Handler) untrack(sess *Session) {
	h.mu.Lock()
	delete(h.sessions, sess.ID())
	h.mu.Unlock()
	h.active.Done()
}

// Close refuses new sessions, closes every open one and waits until their
// read loops have dispatched the final disconnect, or until ctx ends.
// After a nil return no frame is still being dispatched.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	open := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		open = append(open, sess)
	}
	h.mu.Unlock()

	for _, sess := range open {
		sess.Close(websocket.CloseGoingAway, "server shutting down")
	}

	drained := make(chan struct{})
	go func() {
		h.active.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket sessions: %w", ctx.Err())
	}
}

func originChecker(allowed []string) func(*nethttp.Request) bool {
	permitted := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			wildcard = true
			continue
		}
		permitted[strings.ToLower(origin)] = struct{}{}
	}
	return func(r *nethttp.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := permitted[strings.ToLower(origin)]
		return ok
	}
}
