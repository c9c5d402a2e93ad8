package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"overlayd/internal/protocol"
)

// ErrCannotConnectServer is returned by Send when nothing accepts connections
// on the socket path.
var ErrCannotConnectServer = errors.New("cannot connect to server")

// Send dials the daemon once, writes cmd, and returns the single Response.
// There is no retry. The context bounds the whole exchange.
func Send(ctx context.Context, socketPath string, cmd protocol.Command) (protocol.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrCannotConnectServer, socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.WriteCommand(conn, cmd); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
