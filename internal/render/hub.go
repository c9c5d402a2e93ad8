package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// ============================================================================
// Hub
// ============================================================================
// The hub is the websocket side of the Renderer. Renderer calls are queued to
// the Run goroutine, which is the only goroutine that writes to or closes a
// subscriber's queue.
//
// Value updates are coalesced per panel: the latest value of each panel goes
// out at most once per window. Visibility and mute updates flush pending
// values first, so a client sees the events of one panel in order.
//
// A subscriber follows one monitor or all of them. Until its state_init frame
// has come through the hub it is pending, and its updates are held back
// behind that frame.
// ============================================================================

// DefaultCoalesceWindow bounds how often value_changed frames go out for one
// panel while a ramp is running. The final value is always delivered.
const DefaultCoalesceWindow = 50 * time.Millisecond

const (
	defaultSendBuf   = 64
	defaultUpdateBuf = 256
)

// HubConfig sizes the hub. Zero values pick defaults.
type HubConfig struct {
	// SendBuf is the per-subscriber outbound queue size. A subscriber whose
	// queue is full is disconnected.
	SendBuf int

	// UpdateBuf is the queue between the Renderer calls and Run.
	UpdateBuf int

	CoalesceWindow time.Duration
}

type panelKey struct {
	monitor int
	widget  protocol.Widget
}

// update is one Renderer call on its way to Run.
type update struct {
	typ     string
	monitor int
	widget  protocol.Widget
	value   float64
	on      bool
}

func (u update) data() any {
	switch u.typ {
	case TypeVisibilityChanged:
		return visibilityChangedData{Monitor: u.monitor, Widget: u.widget, Visible: u.on}
	case TypeMuteChanged:
		return muteChangedData{Monitor: u.monitor, Muted: u.on}
	default:
		return valueChangedData{Monitor: u.monitor, Widget: u.widget, Value: u.value}
	}
}

type initFrame struct {
	sub  *subscriber
	snap state.Snapshot
}

// Hub fans overlay updates out to websocket subscribers. It implements
// Renderer; call Run to start it.
type Hub struct {
	logger  *slog.Logger
	window  time.Duration
	sendBuf int

	updates chan update
	join    chan *subscriber
	init    chan initFrame
	leave   chan *subscriber
	done    chan struct{}

	// subs is written only by Run; mu lets Clients read it.
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultSendBuf
	}
	if cfg.UpdateBuf <= 0 {
		cfg.UpdateBuf = defaultUpdateBuf
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = DefaultCoalesceWindow
	}
	return &Hub{
		logger:  logger,
		window:  cfg.CoalesceWindow,
		sendBuf: cfg.SendBuf,
		updates: make(chan update, cfg.UpdateBuf),
		join:    make(chan *subscriber),
		init:    make(chan initFrame),
		leave:   make(chan *subscriber),
		done:    make(chan struct{}),
		subs:    make(map[*subscriber]struct{}),
	}
}

func (h *Hub) SetValue(target int, widget protocol.Widget, value float64) {
	h.enqueue(update{typ: TypeValueChanged, monitor: target, widget: widget, value: value})
}

func (h *Hub) SetVisible(target int, widget protocol.Widget, visible bool) {
	h.enqueue(update{typ: TypeVisibilityChanged, monitor: target, widget: widget, on: visible})
}

func (h *Hub) SetMuted(target int, muted bool) {
	h.enqueue(update{typ: TypeMuteChanged, monitor: target, widget: protocol.WidgetVolume, on: muted})
}

// enqueue never blocks the daemon's consumer loop.
func (h *Hub) enqueue(u update) {
	select {
	case h.updates <- u:
	default:
		h.logger.Warn("ws hub update queue full, dropping update", "type", u.typ, "monitor", u.monitor)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// subscribe hands s to Run. It reports false once the hub has stopped.
func (h *Hub) subscribe(s *subscriber) bool {
	select {
	case h.join <- s:
		return true
	case <-h.done:
		return false
	}
}

// deliverState hands the snapshot for s to Run, which sends it as state_init
// ahead of every held-back update.
func (h *Hub) deliverState(s *subscriber, snap state.Snapshot) {
	select {
	case h.init <- initFrame{sub: s, snap: snap}:
	case <-h.done:
	}
}

func (h *Hub) unsubscribe(s *subscriber) {
	select {
	case h.leave <- s:
	case <-h.done:
	}
}

// Run owns the subscribers until ctx is canceled, then flushes pending values
// and disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Debug("ws hub starting")

	pending := make(map[panelKey]float64)
	var order []panelKey
	var timer *time.Timer
	var flushC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, flushC = nil, nil
		}
		for _, k := range order {
			h.fanOut(update{typ: TypeValueChanged, monitor: k.monitor, widget: k.widget, value: pending[k]})
			delete(pending, k)
		}
		order = order[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			for s := range h.subs {
				h.remove(s, "hub_stopped")
			}
			h.logger.Debug("ws hub stopping")
			return

		case s := <-h.join:
			h.mu.Lock()
			h.subs[s] = struct{}{}
			n := len(h.subs)
			h.mu.Unlock()
			h.logger.Info("ws client subscribed", "remote_addr", s.remoteAddr, "monitor", s.monitor, "clients", n)

		case f := <-h.init:
			h.sendInit(f)

		case s := <-h.leave:
			h.remove(s, "closed")

		case u := <-h.updates:
			if u.typ == TypeValueChanged {
				k := panelKey{monitor: u.monitor, widget: u.widget}
				if _, ok := pending[k]; !ok {
					order = append(order, k)
				}
				pending[k] = u.value
				if timer == nil {
					timer = time.NewTimer(h.window)
					flushC = timer.C
				}
				continue
			}
			flush()
			h.fanOut(u)

		case <-flushC:
			timer, flushC = nil, nil
			flush()
		}
	}
}

// fanOut sends u to every subscriber following its monitor.
func (h *Hub) fanOut(u update) {
	msg, err := marshalFrame(u.typ, u.data())
	if err != nil {
		h.logger.Warn("ws hub marshal failed", "type", u.typ, "error", err)
		return
	}

	var slow []*subscriber
	for s := range h.subs {
		if s.wants(u.monitor) && !s.offer(msg) {
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		h.remove(s, "slow_client")
	}
}

// sendInit releases a pending subscriber: state_init first, then whatever
// was held back. A subscriber that left while its snapshot was in flight is
// ignored.
func (h *Hub) sendInit(f initFrame) {
	s := f.sub
	if _, ok := h.subs[s]; !ok || s.ready {
		return
	}

	msg, err := marshalFrame(TypeStateInit, snapshotFor(f.snap, s.monitor))
	if err != nil {
		h.logger.Warn("ws hub marshal failed", "type", TypeStateInit, "error", err)
		h.remove(s, "init_failed")
		return
	}

	held := s.held
	s.ready, s.held = true, nil
	for _, m := range append([][]byte{msg}, held...) {
		if !s.offer(m) {
			h.remove(s, "slow_client")
			return
		}
	}
}

func (h *Hub) remove(s *subscriber, reason string) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	s.close()
	h.logger.Info("ws client disconnected", "remote_addr", s.remoteAddr, "reason", reason, "clients", n)
}
