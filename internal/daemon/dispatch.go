package daemon

import (
	"context"
	"fmt"
	"math"
	"time"

	"overlayd/internal/bus"
	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// dispatch resolves the targets of a widget command and applies its op to
// each of them. The response is the one produced for the first target. A nil
// response means the envelope was a stale task follow-up and was dropped.
func (d *Daemon) dispatch(ctx context.Context, env bus.Envelope, cmd protocol.PanelCommand) protocol.Response {
	widget, op, sel := cmd.Panel()
	if !protocol.Supports(widget, op.Kind) {
		return protocol.Failure{Message: fmt.Sprintf("%s does not support %s", widget, op.Kind)}
	}
	if err := validateOp(op); err != nil {
		return protocol.Failure{Message: err.Error()}
	}

	targets := env.Targets
	if targets == nil {
		var err error
		targets, err = d.store.Resolve(sel)
		if err != nil {
			return protocol.Failure{Message: err.Error()}
		}
	}

	logger := d.logger.With("request_id", env.CorrelationID, "widget", widget, "op", op.Kind)
	logger.Debug("dispatch", "value", op.Value, "targets", targets)

	var first protocol.Response
	for i, idx := range targets {
		p, err := d.store.Panel(idx, widget)
		if err != nil {
			return protocol.Failure{Message: err.Error()}
		}

		if env.TaskID != 0 && !p.Tasks.IsLive(state.DeferredClose, env.TaskID) {
			logger.Debug("dropping superseded task follow-up", "task_id", env.TaskID, "monitor", idx)
			return nil
		}

		resp := d.apply(ctx, idx, p, op)
		if i == 0 {
			first = resp
		}
	}
	if first == nil {
		first = protocol.Success{}
	}
	return first
}

func validateOp(op protocol.Op) error {
	if math.IsNaN(op.Value) || math.IsInf(op.Value, 0) {
		return fmt.Errorf("%s: value must be a finite number", op.Kind)
	}
	if op.Kind == protocol.OpOpenTimed {
		if op.Value <= 0 {
			return fmt.Errorf("%s: duration must be positive", op.Kind)
		}
		if op.Value*float64(time.Second) >= float64(math.MaxInt64) {
			return fmt.Errorf("%s: duration %gs is too long", op.Kind, op.Value)
		}
	}
	return nil
}

// closeDelay converts a validated OpenTimed value. Anything below a
// nanosecond still schedules a close.
func closeDelay(seconds float64) time.Duration {
	return max(time.Duration(seconds*float64(time.Second)), time.Nanosecond)
}

// apply runs one op against one panel.
func (d *Daemon) apply(ctx context.Context, idx int, p *state.Panel, op protocol.Op) protocol.Response {
	switch op.Kind {
	case protocol.OpGet:
		return valueResponse(p)

	case protocol.OpSet:
		d.startRamp(ctx, idx, p, p.Clamp(op.Value))
	case protocol.OpSetSmooth:
		d.startRamp(ctx, idx, p, p.Quantize(op.Value))
	case protocol.OpIncrement:
		d.startRamp(ctx, idx, p, p.Quantize(p.Current+op.Value))
	case protocol.OpDecrement:
		d.startRamp(ctx, idx, p, p.Quantize(p.Current-op.Value))
	case protocol.OpSetRough:
		d.jump(idx, p, p.Clamp(op.Value))

	case protocol.OpOpen:
		d.open(ctx, idx, p, 0)
	case protocol.OpOpenTimed:
		d.open(ctx, idx, p, closeDelay(op.Value))
	case protocol.OpClose:
		d.close(idx, p)
	case protocol.OpToggle:
		if p.Visible {
			d.close(idx, p)
		} else {
			d.open(ctx, idx, p, 0)
		}

	case protocol.OpMute:
		d.setMuted(idx, p, true)
		return protocol.MuteState{Muted: p.Muted}
	case protocol.OpUnmute:
		d.setMuted(idx, p, false)
		return protocol.MuteState{Muted: p.Muted}
	case protocol.OpToggleMute:
		d.setMuted(idx, p, !p.Muted)
		return protocol.MuteState{Muted: p.Muted}
	case protocol.OpGetMute:
		return protocol.MuteState{Muted: p.Muted}

	default:
		return protocol.Failure{Message: fmt.Sprintf("unknown op %q", op.Kind)}
	}
	return protocol.Success{}
}

func valueResponse(p *state.Panel) protocol.Response {
	if p.Widget == protocol.WidgetBrightness {
		return protocol.BrightnessValue{Value: p.Current}
	}
	return protocol.VolumeValue{Value: p.Current}
}

func (d *Daemon) setMuted(idx int, p *state.Panel, muted bool) {
	p.Muted = muted
	d.renderer.SetMuted(idx, muted)
}
