// Package render defines how the daemon tells the outside world what to draw,
// and ships the implementations the daemon uses: a websocket state feed and a
// debug logger.
package render

import (
	"log/slog"

	"overlayd/internal/protocol"
)

// Renderer receives display updates from the daemon's consumer loop. Calls
// must be idempotent and must not block.
type Renderer interface {
	SetValue(target int, widget protocol.Widget, value float64)
	SetVisible(target int, widget protocol.Widget, visible bool)
	SetMuted(target int, muted bool)
}

// Multi fans every call out to each renderer in order.
type Multi []Renderer

func (m Multi) SetValue(target int, widget protocol.Widget, value float64) {
	for _, r := range m {
		r.SetValue(target, widget, value)
	}
}

func (m Multi) SetVisible(target int, widget protocol.Widget, visible bool) {
	for _, r := range m {
		r.SetVisible(target, widget, visible)
	}
}

func (m Multi) SetMuted(target int, muted bool) {
	for _, r := range m {
		r.SetMuted(target, muted)
	}
}

// Log writes every update at debug level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) SetValue(target int, widget protocol.Widget, value float64) {
	l.Logger.Debug("render value", "monitor", target, "widget", widget, "value", value)
}

func (l Log) SetVisible(target int, widget protocol.Widget, visible bool) {
	l.Logger.Debug("render visibility", "monitor", target, "widget", widget, "visible", visible)
}

func (l Log) SetMuted(target int, muted bool) {
	l.Logger.Debug("render mute", "monitor", target, "muted", muted)
}
