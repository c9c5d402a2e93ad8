// Package ipc carries one Command and its Response per connection over a
// Unix stream socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"overlayd/internal/bus"
	"overlayd/internal/protocol"
	"overlayd/internal/shutdown"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: length-prefixed frames (see protocol.WriteFrame).
//   - Client connects and writes exactly one Command frame.
//   - Server publishes it on the event bus, waits for the reply and writes
//     exactly one Response frame.
//   - Both sides close.
// ============================================================================

// ErrServerAlreadyRunning is returned by Listen when another daemon answers on
// the socket path, or the path is occupied by something we must not remove.
var ErrServerAlreadyRunning = errors.New("server already running")

// replyTimeout bounds how long a client that stopped reading can hold a
// handler.
const replyTimeout = 2 * time.Second

// Server owns the listening socket.
type Server struct {
	path     string
	listener net.Listener
	logger   *slog.Logger

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[net.Conn]struct{}

	closeOnce sync.Once
}

// Listen binds the socket at path. A socket left behind by a crashed daemon is
// detected by a refused connection and replaced; anything else already at
// path yields ErrServerAlreadyRunning and is left untouched.
func Listen(path string, logger *slog.Logger) (*Server, error) {
	if err := probeExisting(path); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	// The socket file is removed by Close, not by the listener.
	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", path)
	return &Server{
		path:     path,
		listener: ln,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Path is the socket path the server is bound to.
func (s *Server) Path() string { return s.path }

// Serve accepts connections until ctx is canceled or sd fires, then closes
// the listener, drops open connections and removes the socket file.
func (s *Server) Serve(ctx context.Context, events *bus.Bus, sd *shutdown.Signal) error {
	defer s.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-sd.Done():
		case <-stop:
		}
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || sd.Triggered() || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC listener closed")
				return nil
			}
			s.logger.Error("IPC accept error", "error", err)
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(ctx, conn, events, sd)
		}()
	}
}

// Close stops the listener, waits for connection handlers and removes the
// socket file. Safe to call more than once.
//
// Reads on live connections are cut short. A handler that already holds a
// request still writes its response and closes the connection itself.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.listener.Close()

		s.mu.Lock()
		for c := range s.conns {
			_ = c.SetReadDeadline(time.Now())
		}
		s.mu.Unlock()

		s.wg.Wait()

		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("IPC failed to remove socket", "socket", s.path, "error", err)
		}
		s.logger.Debug("IPC socket removed", "socket", s.path)
	})
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// handleConn serves exactly one request on conn.
func (s *Server) handleConn(ctx context.Context, conn net.Conn, events *bus.Bus, sd *shutdown.Signal) {
	defer conn.Close()

	id := uuid.NewString()
	logger := s.logger.With("request_id", id)
	if pid, uid, ok := peerCredentials(conn); ok {
		logger = logger.With("peer_pid", pid, "peer_uid", uid)
	}

	payload, err := protocol.ReadFrame(conn)
	if err != nil {
		logger.Debug("IPC read failed", "error", err)
		return
	}

	cmd, err := protocol.DecodeCommand(payload)
	if err != nil {
		logger.Warn("IPC bad request", "error", err)
		s.reply(logger, conn, protocol.Failure{Message: err.Error()})
		return
	}
	logger.Debug("IPC received", "command", cmd.CommandName())

	reply := make(chan protocol.Response, 1)
	env := bus.Envelope{Command: cmd, Reply: reply, CorrelationID: id}
	if !events.Publish(env) {
		s.reply(logger, conn, protocol.Failure{Message: "daemon is shutting down"})
		return
	}

	var resp protocol.Response
	select {
	case resp = <-reply:
	case <-sd.Done():
		resp = protocol.Failure{Message: "daemon is shutting down"}
	case <-ctx.Done():
		resp = protocol.Failure{Message: "daemon is shutting down"}
	}

	s.reply(logger, conn, resp)

	// Shutdown is acknowledged before the daemon starts tearing down.
	if _, ok := cmd.(protocol.Shutdown); ok {
		if _, failed := resp.(protocol.Failure); !failed {
			logger.Info("shutdown requested over IPC")
			sd.Trigger()
		}
	}
}

func (s *Server) reply(logger *slog.Logger, conn net.Conn, resp protocol.Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	if err := protocol.WriteResponse(conn, resp); err != nil {
		logger.Debug("IPC failed to send response", "error", err)
	}
}
