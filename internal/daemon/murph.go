package daemon

import (
	"context"
	"time"

	"overlayd/internal/bus"
	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// ============================================================================
// Smooth transitions
// ============================================================================
// A change request moves Panel.Current to the target immediately. The
// displayed value then eases towards it: every tick it covers Alpha of the
// remaining distance, and after Ticks ticks it snaps to the exact target.
// The ramp runs as a SmoothTransition task; each step comes back to the
// consumer loop as a rampStep envelope tagged with the task id, and steps from
// a superseded task are dropped there.
// ============================================================================

// Animation shapes a smooth transition.
type Animation struct {
	Ticks        int
	TickInterval time.Duration
	Alpha        float64
}

// DefaultAnimation is 50 ticks of 10ms easing by 10% per tick.
func DefaultAnimation() Animation {
	return Animation{Ticks: 50, TickInterval: 10 * time.Millisecond, Alpha: 0.1}
}

func (a Animation) withDefaults() Animation {
	def := DefaultAnimation()
	if a.Ticks <= 0 {
		a.Ticks = def.Ticks
	}
	if a.TickInterval <= 0 {
		a.TickInterval = def.TickInterval
	}
	if a.Alpha <= 0 || a.Alpha > 1 {
		a.Alpha = def.Alpha
	}
	return a
}

// Ease returns the intermediate values of a ramp from from to to. The exact
// target is not included; the ramp emits it as its final step.
func Ease(from, to float64, ticks int, alpha float64) []float64 {
	out := make([]float64, 0, ticks)
	v := from
	for i := 0; i < ticks; i++ {
		v += (to - v) * alpha
		out = append(out, v)
	}
	return out
}

// rampStep carries one displayed value from a SmoothTransition task back to
// the consumer loop. It never leaves the process.
type rampStep struct {
	Widget protocol.Widget
	Value  float64
	Final  bool
}

func (rampStep) CommandName() string { return "ramp_step" }

// startRamp sets the authoritative value and starts a SmoothTransition from
// the currently displayed value, replacing any ramp already running.
func (d *Daemon) startRamp(ctx context.Context, idx int, p *state.Panel, target float64) {
	from := p.Display
	p.Current = target

	id := d.store.NextTaskID()
	widget := p.Widget
	anim := d.anim
	events := d.events

	p.Tasks.Start(ctx, state.SmoothTransition, id, func(ctx context.Context) {
		emit := func(v float64, final bool) bool {
			return events.Publish(bus.Envelope{
				Command: rampStep{Widget: widget, Value: v, Final: final},
				Targets: []int{idx},
				TaskID:  id,
			})
		}
		runRamp(ctx, anim, from, target, emit)
	})
}

// runRamp emits one eased value per tick and then the exact target. It stops
// early when ctx is canceled or the bus refuses a step.
func runRamp(ctx context.Context, anim Animation, from, to float64, emit func(v float64, final bool) bool) {
	if from != to {
		ticker := time.NewTicker(anim.TickInterval)
		defer ticker.Stop()

		for _, v := range Ease(from, to, anim.Ticks, anim.Alpha) {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if !emit(v, false) {
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}
	emit(to, true)
}

// applyRampStep renders a step if its task is still the live ramp.
func (d *Daemon) applyRampStep(env bus.Envelope, step rampStep) {
	if len(env.Targets) != 1 {
		return
	}
	idx := env.Targets[0]
	p, err := d.store.Panel(idx, step.Widget)
	if err != nil {
		return
	}
	if !p.Tasks.IsLive(state.SmoothTransition, env.TaskID) {
		return
	}

	p.Display = step.Value
	d.renderer.SetValue(idx, p.Widget, step.Value)

	if step.Final {
		p.Tasks.Finish(state.SmoothTransition, env.TaskID)
	}
}

// jump cancels any ramp and shows v at once. Used for drag-style input where
// the pointer already provides continuity.
func (d *Daemon) jump(idx int, p *state.Panel, v float64) {
	p.Tasks.Cancel(state.SmoothTransition)
	p.Current = v
	p.Display = v
	d.renderer.SetValue(idx, p.Widget, v)
}
