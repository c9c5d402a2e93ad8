package render

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// allMonitors marks a subscriber that follows every monitor.
const allMonitors = -1

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// subscriber is one websocket connection. Apart from the pumps, its fields
// belong to the hub's Run goroutine.
type subscriber struct {
	conn       *websocket.Conn
	remoteAddr string
	monitor    int

	send chan []byte

	// ready is set once state_init is queued; until then frames wait in held.
	ready bool
	held  [][]byte
}

func newSubscriber(conn *websocket.Conn, remoteAddr string, monitor int, sendBuf int, ready bool) *subscriber {
	return &subscriber{
		conn:       conn,
		remoteAddr: remoteAddr,
		monitor:    monitor,
		send:       make(chan []byte, sendBuf),
		ready:      ready,
	}
}

func (s *subscriber) wants(monitor int) bool {
	return s.monitor == allMonitors || s.monitor == monitor
}

// offer queues msg without blocking. False means the subscriber is too slow.
// One slot is kept free while pending so state_init always fits.
func (s *subscriber) offer(msg []byte) bool {
	if !s.ready {
		if len(s.held) >= cap(s.send)-1 {
			return false
		}
		s.held = append(s.held, msg)
		return true
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	close(s.send)
}

func (s *subscriber) logExit(logger *slog.Logger, pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		logger.Debug("ws "+pump+" exiting (close)", "remote_addr", s.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	logger.Debug("ws "+pump+" exiting", "remote_addr", s.remoteAddr, "error", err)
}

// writePump drains the send queue into the socket and pings to keep the
// connection alive. It exits on write error or when the hub closes send.
func (s *subscriber) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			err = s.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = s.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			s.logExit(logger, "writePump", err)
			return
		}
	}
}

// readPump discards inbound frames so control frames are handled, and tells
// the hub when the peer goes away.
func (s *subscriber) readPump(h *Hub, logger *slog.Logger) {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.logExit(logger, "readPump", err)
			h.unsubscribe(s)
			return
		}
	}
}
