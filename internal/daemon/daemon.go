// Package daemon runs the single consumer loop that owns all overlay state.
//
// Connection handlers, animation tasks and the websocket server only ever
// publish envelopes on the bus. The loop in Run is the one goroutine that
// reads or writes a Panel, starts or cancels a task, or calls the Renderer.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"overlayd/internal/bus"
	"overlayd/internal/protocol"
	"overlayd/internal/render"
	"overlayd/internal/shutdown"
	"overlayd/internal/state"
)

// Daemon is the consumer side of the event bus.
type Daemon struct {
	store    *state.Store
	events   *bus.Bus
	renderer render.Renderer
	anim     Animation
	logger   *slog.Logger
}

// New wires a daemon. Nothing runs until Run is called.
func New(store *state.Store, events *bus.Bus, renderer render.Renderer, anim Animation, logger *slog.Logger) *Daemon {
	return &Daemon{
		store:    store,
		events:   events,
		renderer: renderer,
		anim:     anim.withDefaults(),
		logger:   logger,
	}
}

// Run consumes envelopes until ctx is canceled, sd fires or the bus closes.
// Every background task is canceled before it returns.
func (d *Daemon) Run(ctx context.Context, sd *shutdown.Signal) error {
	defer d.store.CancelAll()

	d.logger.Info("daemon started", "monitors", d.store.Len())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping (context canceled)")
			return nil

		case <-sd.Done():
			d.logger.Info("daemon stopping (shutdown requested)")
			return nil

		case env, ok := <-d.events.Out():
			if !ok {
				d.logger.Info("daemon stopping (bus closed)")
				return nil
			}
			d.handle(ctx, env)
		}
	}
}

// handle applies one envelope. ctx parents any task it starts.
func (d *Daemon) handle(ctx context.Context, env bus.Envelope) {
	switch cmd := env.Command.(type) {
	case protocol.Shutdown:
		d.logger.Info("shutdown requested", "request_id", env.CorrelationID, "live_tasks", d.store.LiveTasks())
		d.store.CancelAll()
		env.Respond(protocol.Success{})

	case protocol.PanelCommand:
		resp := d.dispatch(ctx, env, cmd)
		if resp != nil {
			env.Respond(resp)
		}

	case rampStep:
		d.applyRampStep(env, cmd)

	case state.SnapshotRequest:
		select {
		case cmd.Reply <- d.store.Snapshot():
		default:
		}

	default:
		d.logger.Warn("unhandled command", "type", fmt.Sprintf("%T", env.Command))
		env.Respond(protocol.Failure{Message: "unsupported command"})
	}
}
