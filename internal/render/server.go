package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"overlayd/internal/bus"
	"overlayd/internal/state"
)

const snapshotTimeout = time.Second

// Server exposes the Hub over HTTP. On connect a client first receives a
// state_init frame holding a snapshot taken by the daemon's consumer loop,
// then the live updates for the monitors it follows.
type Server struct {
	logger *slog.Logger
	hub    *Hub
	events *bus.Bus
}

// NewServer wires a websocket endpoint to hub. Snapshots are requested over
// events; a nil bus skips state_init.
func NewServer(logger *slog.Logger, hub *Hub, events *bus.Bus) *Server {
	return &Server{logger: logger, hub: hub, events: events}
}

// Register installs the websocket handler on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleState)
}

var upgrader = websocket.Upgrader{
	// Local overlay clients only; the listen address is the access control.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleState upgrades the request and subscribes it to the hub. An optional
// ?monitor=N query limits the feed to one monitor.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	monitor, err := parseMonitor(r.URL.Query().Get("monitor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	// Without a bus there is no snapshot to wait for.
	sub := newSubscriber(conn, r.RemoteAddr, monitor, s.hub.sendBuf, s.events == nil)
	if !s.hub.subscribe(sub) {
		_ = conn.Close()
		return
	}

	// The pumps outlive this handler, so they are not tied to r.Context().
	go sub.writePump(s.logger)
	go sub.readPump(s.hub, s.logger)

	if s.events == nil {
		return
	}

	// The subscription is live before the snapshot is taken, so nothing
	// between the two is lost; the hub holds it back until state_init.
	reply := make(chan state.Snapshot, 1)
	if !s.events.Publish(bus.Envelope{Command: state.SnapshotRequest{Reply: reply}}) {
		s.hub.unsubscribe(sub)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "remote_addr", r.RemoteAddr, "error", ctx.Err())
		}
		s.hub.unsubscribe(sub)

	case snap := <-reply:
		s.hub.deliverState(sub, snap)
	}
}

func parseMonitor(v string) (int, error) {
	if v == "" {
		return allMonitors, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid monitor %q", v)
	}
	return n, nil
}

// ListenAndServe serves the websocket endpoint on addr until ctx is canceled,
// then shuts the HTTP server down gracefully. If ready is non-nil it receives
// the bound address once the listener is up.
func (s *Server) ListenAndServe(ctx context.Context, addr, path string, ready chan<- net.Addr) error {
	mux := http.NewServeMux()
	s.Register(mux, path)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ws listen on %s: %w", addr, err)
	}
	s.logger.Info("ws state feed listening", "addr", ln.Addr().String(), "path", path)
	if ready != nil {
		ready <- ln.Addr()
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		// Serve returns http.ErrServerClosed after Shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ws HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ws HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
