package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Session is one websocket connection. Frames handed to Send are written by
// a dedicated pump goroutine so a slow peer never stalls the router.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}
}

func newSession(id string, conn *websocket.Conn, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		id:       id,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Send queues frame without blocking. It reports false when the session is
// closed or its queue is full.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops the write pump, sends a close frame and releases the socket.
// It is safe to call more than once.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.pumpDone
		message := websocket.FormatCloseMessage(code, reason)
		s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		s.conn.Close()
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.pumpDone)
	}()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				// Unblock the read loop; it owns the disconnect.
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) prepareRead() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}
