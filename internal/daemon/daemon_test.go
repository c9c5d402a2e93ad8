package daemon

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"overlayd/internal/bus"
	"overlayd/internal/logging"
	"overlayd/internal/protocol"
	"overlayd/internal/shutdown"
	"overlayd/internal/state"
)

// recordingRenderer remembers every call. The tests drive the consumer loop
// from the test goroutine, so no locking is needed.
type recordingRenderer struct {
	values  map[int][]float64
	bright  map[int][]float64
	visible map[int][]bool
	muted   map[int][]bool
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{
		values:  make(map[int][]float64),
		bright:  make(map[int][]float64),
		visible: make(map[int][]bool),
		muted:   make(map[int][]bool),
	}
}

func (r *recordingRenderer) SetValue(target int, widget protocol.Widget, value float64) {
	if widget == protocol.WidgetBrightness {
		r.bright[target] = append(r.bright[target], value)
		return
	}
	r.values[target] = append(r.values[target], value)
}

func (r *recordingRenderer) SetVisible(target int, _ protocol.Widget, visible bool) {
	r.visible[target] = append(r.visible[target], visible)
}

func (r *recordingRenderer) SetMuted(target int, muted bool) {
	r.muted[target] = append(r.muted[target], muted)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	d      *Daemon
	store  *state.Store
	events *bus.Bus
	rec    *recordingRenderer
}

var fastAnimation = Animation{Ticks: 50, TickInterval: time.Millisecond, Alpha: 0.1}

func newHarness(t *testing.T, monitors int, anim Animation) *harness {
	t.Helper()
	names := make([]string, monitors)
	for i := range names {
		names[i] = "mon" + string(rune('A'+i))
	}
	store := state.NewStore(names, map[protocol.Widget]state.PanelDefaults{
		protocol.WidgetVolume:     {Max: 100, Initial: 32, Step: 5},
		protocol.WidgetBrightness: {Max: 100, Initial: 50, Step: 5},
	})
	events := bus.New()
	rec := newRecordingRenderer()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		store.CancelAll()
		events.Close()
	})

	return &harness{
		t:      t,
		ctx:    ctx,
		d:      New(store, events, rec, anim, logging.Discard()),
		store:  store,
		events: events,
		rec:    rec,
	}
}

// do handles cmd synchronously on the test goroutine and returns its response.
func (h *harness) do(cmd protocol.Command) protocol.Response {
	h.t.Helper()
	reply := make(chan protocol.Response, 1)
	h.d.handle(h.ctx, bus.Envelope{Command: cmd, Reply: reply, CorrelationID: "test"})
	select {
	case r := <-reply:
		return r
	default:
		h.t.Fatalf("no response for %#v", cmd)
		return nil
	}
}

// pumpUntil plays the consumer loop until cond holds.
func (h *harness) pumpUntil(timeout time.Duration, cond func() bool, msg string) {
	h.t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case env := <-h.events.Out():
			h.d.handle(h.ctx, env)
		case <-deadline:
			h.t.Fatalf("timeout: %s", msg)
		}
	}
}

// pumpFor plays the consumer loop for d.
func (h *harness) pumpFor(d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case env := <-h.events.Out():
			h.d.handle(h.ctx, env)
		case <-deadline:
			return
		}
	}
}

func (h *harness) panel(idx int, w protocol.Widget) *state.Panel {
	h.t.Helper()
	p, err := h.store.Panel(idx, w)
	if err != nil {
		h.t.Fatalf("Panel: %v", err)
	}
	return p
}

func vol(op protocol.Op, sel protocol.TargetSelector) protocol.Command {
	return protocol.Volume{Op: op, Target: sel}
}

func TestIncrement_QuantizesFromAuthoritativeValueAndConverges(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	mon0 := protocol.SingleTarget(0)

	if resp := h.do(vol(protocol.Increment(10), mon0)); resp != (protocol.Success{}) {
		t.Fatalf("Increment response = %#v", resp)
	}

	// The authoritative value moves synchronously: 32+10=42, quantized to 40.
	if resp := h.do(vol(protocol.Get(), mon0)); resp != (protocol.VolumeValue{Value: 40}) {
		t.Fatalf("Get right after Increment = %#v, want 40", resp)
	}

	p := h.panel(0, protocol.WidgetVolume)
	h.pumpUntil(2*time.Second, func() bool { return p.Tasks.Len() == 0 }, "ramp did not finish")

	values := h.rec.values[0]
	if len(values) != fastAnimation.Ticks+1 {
		t.Fatalf("rendered %d values, want %d", len(values), fastAnimation.Ticks+1)
	}
	if last := values[len(values)-1]; last != 40 {
		t.Fatalf("final rendered value = %v, want exactly 40", last)
	}
	prev := 32.0
	for i, v := range values[:len(values)-1] {
		if v <= prev || v >= 40 {
			t.Fatalf("value %d = %v not strictly between %v and 40", i, v, prev)
		}
		prev = v
	}
	if p.Display != 40 || p.Current != 40 {
		t.Fatalf("panel display/current = %v/%v, want 40/40", p.Display, p.Current)
	}
}

func TestSetSmooth_SupersedesRunningRamp(t *testing.T) {
	h := newHarness(t, 1, Animation{Ticks: 50, TickInterval: 5 * time.Millisecond, Alpha: 0.1})
	p := h.panel(0, protocol.WidgetVolume)

	h.do(vol(protocol.SetSmooth(100), protocol.AllTargets()))
	h.pumpUntil(time.Second, func() bool { return p.Display > 40 }, "first ramp never rendered")

	h.do(vol(protocol.SetSmooth(0), protocol.AllTargets()))
	if n := p.Tasks.Len(); n != 1 {
		t.Fatalf("live tasks after supersede = %d, want 1", n)
	}
	if p.Current != 0 {
		t.Fatalf("Current = %v, want 0", p.Current)
	}

	peak := p.Display
	seen := len(h.rec.values[0])
	h.pumpUntil(2*time.Second, func() bool { return p.Tasks.Len() == 0 }, "second ramp did not finish")

	after := h.rec.values[0][seen:]
	if len(after) == 0 {
		t.Fatalf("second ramp rendered nothing")
	}
	prev := peak
	for i, v := range after {
		if v > prev {
			t.Fatalf("value %d = %v rose above %v; a stale step from the first ramp was rendered", i, v, prev)
		}
		prev = v
	}
	if after[len(after)-1] != 0 {
		t.Fatalf("final value = %v, want 0", after[len(after)-1])
	}

	// Nothing left in flight from either task.
	before := len(h.rec.values[0])
	h.pumpFor(50 * time.Millisecond)
	if len(h.rec.values[0]) != before {
		t.Fatalf("values rendered after convergence")
	}
}

func TestSetAbsolute_ClampsWithoutQuantizing(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)

	h.do(vol(protocol.Set(43), protocol.AllTargets()))
	if resp := h.do(vol(protocol.Get(), protocol.AllTargets())); resp != (protocol.VolumeValue{Value: 43}) {
		t.Fatalf("Get = %#v, want 43", resp)
	}

	h.do(vol(protocol.Set(250), protocol.AllTargets()))
	if resp := h.do(vol(protocol.Get(), protocol.AllTargets())); resp != (protocol.VolumeValue{Value: 100}) {
		t.Fatalf("Get = %#v, want clamped 100", resp)
	}

	h.do(vol(protocol.Decrement(500), protocol.AllTargets()))
	if resp := h.do(vol(protocol.Get(), protocol.AllTargets())); resp != (protocol.VolumeValue{Value: 0}) {
		t.Fatalf("Get = %#v, want clamped 0", resp)
	}
}

func TestSetRough_JumpsAndCancelsRamp(t *testing.T) {
	h := newHarness(t, 1, Animation{Ticks: 50, TickInterval: 5 * time.Millisecond, Alpha: 0.1})
	p := h.panel(0, protocol.WidgetBrightness)

	h.do(protocol.Brightness{Op: protocol.SetSmooth(100)})
	h.do(protocol.Brightness{Op: protocol.SetRough(12)})

	if p.Tasks.Len() != 0 {
		t.Fatalf("ramp still live after SetRough")
	}
	if p.Display != 12 || p.Current != 12 {
		t.Fatalf("display/current = %v/%v, want 12/12", p.Display, p.Current)
	}
	if got := h.rec.bright[0]; len(got) != 1 || got[0] != 12 {
		t.Fatalf("rendered %v, want [12]", got)
	}

	h.pumpFor(50 * time.Millisecond)
	if got := h.rec.bright[0]; len(got) != 1 {
		t.Fatalf("stale ramp steps rendered after SetRough: %v", got)
	}
	if resp := h.do(protocol.Brightness{Op: protocol.Get()}); resp != (protocol.BrightnessValue{Value: 12}) {
		t.Fatalf("Get = %#v", resp)
	}
}

func TestFanOut_AllTargetsGetIndependentRamps(t *testing.T) {
	h := newHarness(t, 3, fastAnimation)

	h.do(vol(protocol.SetSmooth(70), protocol.AllTargets()))
	if n := h.store.LiveTasks(); n != 3 {
		t.Fatalf("live tasks = %d, want 3", n)
	}

	h.pumpUntil(2*time.Second, func() bool { return h.store.LiveTasks() == 0 }, "ramps did not finish")
	for i := 0; i < 3; i++ {
		vs := h.rec.values[i]
		if len(vs) == 0 || vs[len(vs)-1] != 70 {
			t.Fatalf("monitor %d final value = %v, want 70", i, vs)
		}
	}

	if resp := h.do(vol(protocol.Get(), protocol.SingleTarget(2))); resp != (protocol.VolumeValue{Value: 70}) {
		t.Fatalf("Get monitor 2 = %#v", resp)
	}
}

func TestSingleTarget_OnlyTouchesThatMonitor(t *testing.T) {
	h := newHarness(t, 2, fastAnimation)

	h.do(vol(protocol.SetRough(90), protocol.SingleTarget(1)))
	if h.panel(0, protocol.WidgetVolume).Current != 32 {
		t.Fatalf("monitor 0 changed")
	}
	if h.panel(1, protocol.WidgetVolume).Current != 90 {
		t.Fatalf("monitor 1 not changed")
	}
}

func TestTargetOutOfRange_RejectedBeforeAnyChange(t *testing.T) {
	h := newHarness(t, 2, fastAnimation)

	resp := h.do(vol(protocol.SetRough(90), protocol.SingleTarget(5)))
	f, ok := resp.(protocol.Failure)
	if !ok {
		t.Fatalf("response = %#v, want Failure", resp)
	}
	if !strings.Contains(f.Message, "out of range") {
		t.Fatalf("failure message = %q", f.Message)
	}
	for i := 0; i < 2; i++ {
		if h.panel(i, protocol.WidgetVolume).Current != 32 {
			t.Fatalf("monitor %d changed by rejected command", i)
		}
	}
	if len(h.rec.values) != 0 {
		t.Fatalf("renderer called for rejected command")
	}
}

func TestOpenTimed_RepeatedCallsRestartTimer(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetVolume)
	const delay = 150 * time.Millisecond

	h.do(vol(protocol.OpenTimed(delay.Seconds()), protocol.AllTargets()))
	h.pumpFor(100 * time.Millisecond)

	restarted := time.Now()
	h.do(vol(protocol.OpenTimed(delay.Seconds()), protocol.AllTargets()))
	if n := p.Tasks.Len(); n != 1 {
		t.Fatalf("live tasks = %d, want one DeferredClose", n)
	}

	// The first timer would have fired by now.
	h.pumpFor(100 * time.Millisecond)
	if !p.Visible {
		t.Fatalf("panel closed by the superseded timer")
	}

	h.pumpUntil(time.Second, func() bool { return !p.Visible }, "panel never auto-closed")
	if elapsed := time.Since(restarted); elapsed < delay {
		t.Fatalf("closed after %v, before the restarted delay of %v", elapsed, delay)
	}

	closes := 0
	for _, v := range h.rec.visible[0] {
		if !v {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("saw %d close events, want 1 (%v)", closes, h.rec.visible[0])
	}
	if p.Tasks.Len() != 0 {
		t.Fatalf("DeferredClose entry left behind")
	}
}

func TestOpen_CancelsPendingClose(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetLauncher)

	h.do(protocol.Launcher{Op: protocol.OpenTimed(0.05)})
	h.do(protocol.Launcher{Op: protocol.Open()})
	if p.Tasks.Active(state.DeferredClose) {
		t.Fatalf("Open left the DeferredClose running")
	}

	h.pumpFor(120 * time.Millisecond)
	if !p.Visible {
		t.Fatalf("panel closed after plain Open")
	}
}

func TestClose_DoesNotCancelRamp(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetVolume)

	h.do(vol(protocol.Open(), protocol.AllTargets()))
	h.do(vol(protocol.SetSmooth(80), protocol.AllTargets()))
	h.do(vol(protocol.Close(), protocol.AllTargets()))

	if !p.Tasks.Active(state.SmoothTransition) {
		t.Fatalf("Close canceled the ramp")
	}
	h.pumpUntil(2*time.Second, func() bool { return p.Tasks.Len() == 0 }, "ramp did not finish")
	if p.Display != 80 || p.Visible {
		t.Fatalf("display=%v visible=%v, want 80/false", p.Display, p.Visible)
	}
}

func TestLauncherToggle(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetLauncher)

	h.do(protocol.Launcher{Op: protocol.Toggle()})
	if !p.Visible {
		t.Fatalf("first toggle did not open")
	}
	h.do(protocol.Launcher{Op: protocol.Toggle()})
	if p.Visible {
		t.Fatalf("second toggle did not close")
	}
	if got := h.rec.visible[0]; len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("visibility calls = %v, want [true false]", got)
	}
}

func TestMuteOps(t *testing.T) {
	h := newHarness(t, 2, fastAnimation)
	all := protocol.AllTargets()

	if resp := h.do(vol(protocol.Mute(), all)); resp != (protocol.MuteState{Muted: true}) {
		t.Fatalf("Mute = %#v", resp)
	}
	if resp := h.do(vol(protocol.ToggleMute(), protocol.SingleTarget(1))); resp != (protocol.MuteState{Muted: false}) {
		t.Fatalf("ToggleMute = %#v", resp)
	}
	if resp := h.do(vol(protocol.GetMute(), protocol.SingleTarget(0))); resp != (protocol.MuteState{Muted: true}) {
		t.Fatalf("GetMute monitor 0 = %#v", resp)
	}
	if resp := h.do(vol(protocol.Unmute(), all)); resp != (protocol.MuteState{Muted: false}) {
		t.Fatalf("Unmute = %#v", resp)
	}
	if got := h.rec.muted[1]; len(got) != 3 {
		t.Fatalf("monitor 1 mute calls = %v", got)
	}
}

func TestInvalidOps_Fail(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)

	cases := []protocol.Command{
		protocol.Brightness{Op: protocol.Mute()},
		protocol.Launcher{Op: protocol.Set(10)},
		protocol.Volume{Op: protocol.Set(math.NaN())},
		protocol.Volume{Op: protocol.Increment(math.Inf(1))},
		protocol.Launcher{Op: protocol.OpenTimed(0)},
		protocol.Launcher{Op: protocol.OpenTimed(-3)},
		protocol.Volume{Op: protocol.OpenTimed(1e10)},
		protocol.Volume{Op: protocol.OpenTimed(math.MaxFloat64)},
	}
	for _, c := range cases {
		if _, ok := h.do(c).(protocol.Failure); !ok {
			t.Errorf("%#v: expected Failure", c)
		}
	}
	if h.store.LiveTasks() != 0 {
		t.Fatalf("invalid op started a task")
	}
	if p := h.panel(0, protocol.WidgetVolume); p.Visible {
		t.Fatalf("rejected OpenTimed showed the panel")
	}
}

func TestOpenTimed_DurationBounds(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetLauncher)

	// Below a nanosecond still closes.
	if resp := h.do(protocol.Launcher{Op: protocol.OpenTimed(1e-10)}); resp != (protocol.Success{}) {
		t.Fatalf("OpenTimed(1e-10) = %#v", resp)
	}
	if !p.Visible || !p.Tasks.Active(state.DeferredClose) {
		t.Fatalf("visible=%v deferred=%v, want a scheduled close", p.Visible, p.Tasks.Active(state.DeferredClose))
	}
	h.pumpUntil(time.Second, func() bool { return !p.Visible }, "tiny duration never closed")

	// The longest accepted duration still schedules a close.
	if resp := h.do(protocol.Launcher{Op: protocol.OpenTimed(9e9)}); resp != (protocol.Success{}) {
		t.Fatalf("OpenTimed(9e9) = %#v", resp)
	}
	if !p.Tasks.Active(state.DeferredClose) {
		t.Fatalf("long duration did not schedule a close")
	}
	if d := closeDelay(9e9); d <= 0 {
		t.Fatalf("closeDelay(9e9) = %v", d)
	}
}

func TestShutdown_CancelsEveryTask(t *testing.T) {
	h := newHarness(t, 2, Animation{Ticks: 50, TickInterval: 20 * time.Millisecond, Alpha: 0.1})

	h.do(vol(protocol.SetSmooth(90), protocol.AllTargets()))
	h.do(protocol.Launcher{Op: protocol.OpenTimed(10)})
	if h.store.LiveTasks() != 4 {
		t.Fatalf("live tasks = %d, want 4", h.store.LiveTasks())
	}

	if resp := h.do(protocol.Shutdown{}); resp != (protocol.Success{}) {
		t.Fatalf("Shutdown = %#v", resp)
	}
	if h.store.LiveTasks() != 0 {
		t.Fatalf("live tasks after Shutdown = %d", h.store.LiveTasks())
	}
}

func TestSnapshotRequest(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	h.do(vol(protocol.SetRough(65), protocol.AllTargets()))

	reply := make(chan state.Snapshot, 1)
	h.d.handle(h.ctx, bus.Envelope{Command: state.SnapshotRequest{Reply: reply}})
	snap := <-reply
	if got := snap.Targets[0].Panels[protocol.WidgetVolume].Value; got != 65 {
		t.Fatalf("snapshot volume = %v, want 65", got)
	}
}

func TestStaleDeferredCloseIsDropped(t *testing.T) {
	h := newHarness(t, 1, fastAnimation)
	p := h.panel(0, protocol.WidgetVolume)

	h.do(vol(protocol.Open(), protocol.AllTargets()))
	reply := make(chan protocol.Response, 1)
	h.d.handle(h.ctx, bus.Envelope{
		Command: protocol.Volume{Op: protocol.Close(), Target: protocol.SingleTarget(0)},
		Reply:   reply,
		Targets: []int{0},
		TaskID:  9999,
	})
	if !p.Visible {
		t.Fatalf("close from a dead task hid the panel")
	}
	select {
	case r := <-reply:
		t.Fatalf("dropped follow-up got a response: %#v", r)
	default:
	}
}

func TestRun_StopsOnShutdownSignal(t *testing.T) {
	h := newHarness(t, 1, Animation{Ticks: 50, TickInterval: 20 * time.Millisecond, Alpha: 0.1})
	sd := shutdown.New()

	done := make(chan error, 1)
	go func() { done <- h.d.Run(context.Background(), sd) }()

	reply := make(chan protocol.Response, 1)
	h.events.Publish(bus.Envelope{Command: vol(protocol.SetSmooth(100), protocol.AllTargets()), Reply: reply})
	select {
	case <-reply:
	case <-time.After(time.Second):
		t.Fatalf("no reply from Run loop")
	}

	sd.Trigger()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	if h.store.LiveTasks() != 0 {
		t.Fatalf("tasks left running after Run returned")
	}
}

func TestEase(t *testing.T) {
	vs := Ease(32, 40, 50, 0.1)
	if len(vs) != 50 {
		t.Fatalf("len = %d, want 50", len(vs))
	}
	gap := 40 - vs[len(vs)-1]
	want := 8 * math.Pow(0.9, 50)
	if math.Abs(gap-want) > 1e-9 {
		t.Fatalf("remaining gap = %v, want %v", gap, want)
	}
}
