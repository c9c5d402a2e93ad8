package render

import (
	"encoding/json"
	"time"

	"overlayd/internal/protocol"
	"overlayd/internal/state"
)

// Message types on the websocket feed.
const (
	TypeStateInit         = "state_init"
	TypeValueChanged      = "value_changed"
	TypeVisibilityChanged = "visibility_changed"
	TypeMuteChanged       = "mute_changed"
)

// envelope is the JSON frame sent to websocket clients.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type valueChangedData struct {
	Monitor int             `json:"monitor"`
	Widget  protocol.Widget `json:"widget"`
	Value   float64         `json:"value"`
}

type visibilityChangedData struct {
	Monitor int             `json:"monitor"`
	Widget  protocol.Widget `json:"widget"`
	Visible bool            `json:"visible"`
}

type muteChangedData struct {
	Monitor int  `json:"monitor"`
	Muted   bool `json:"muted"`
}

func marshalFrame(typ string, data any) ([]byte, error) {
	now := time.Now().UTC()
	return json.Marshal(envelope{Type: typ, Ts: &now, Data: data})
}

// snapshotFor narrows snap to one monitor. allMonitors keeps everything.
func snapshotFor(snap state.Snapshot, monitor int) state.Snapshot {
	if monitor == allMonitors {
		return snap
	}
	out := state.Snapshot{Targets: []state.TargetSnapshot{}}
	for _, t := range snap.Targets {
		if t.Index == monitor {
			out.Targets = append(out.Targets, t)
		}
	}
	return out
}
