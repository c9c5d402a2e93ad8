package daemon

import (
	"context"
	"time"

	"overlayd/internal/bus"
	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// open shows the panel and drops any pending auto-close. With a positive
// after it schedules a DeferredClose; scheduling again restarts the timer.
func (d *Daemon) open(ctx context.Context, idx int, p *state.Panel, after time.Duration) {
	p.Tasks.Cancel(state.DeferredClose)
	d.setVisible(idx, p, true)
	if after <= 0 {
		return
	}

	id := d.store.NextTaskID()
	widget := p.Widget
	events := d.events

	p.Tasks.Start(ctx, state.DeferredClose, id, func(ctx context.Context) {
		t := time.NewTimer(after)
		defer t.Stop()

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		cmd, ok := protocol.NewPanelCommand(widget, protocol.Close(), protocol.SingleTarget(idx))
		if !ok {
			return
		}
		events.Publish(bus.Envelope{Command: cmd, Targets: []int{idx}, TaskID: id})
	})
}

// close hides the panel. A running SmoothTransition keeps going so the value
// is correct the next time the panel is shown.
func (d *Daemon) close(idx int, p *state.Panel) {
	p.Tasks.Cancel(state.DeferredClose)
	d.setVisible(idx, p, false)
}

func (d *Daemon) setVisible(idx int, p *state.Panel, visible bool) {
	p.Visible = visible
	d.renderer.SetVisible(idx, p.Widget, visible)
}
