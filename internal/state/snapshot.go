package state

import "overlayd/internal/protocol"

// PanelSnapshot is a copy of the externally visible part of a Panel.
type PanelSnapshot struct {
	Value   float64 `json:"value"`
	Max     float64 `json:"max"`
	Muted   bool    `json:"muted"`
	Visible bool    `json:"visible"`
}

// TargetSnapshot is a copy of one monitor's panels.
type TargetSnapshot struct {
	Index  int                                `json:"index"`
	Name   string                             `json:"name"`
	Panels map[protocol.Widget]PanelSnapshot `json:"panels"`
}

// Snapshot is a point-in-time copy of the store, safe to hand to other
// goroutines.
type Snapshot struct {
	Targets []TargetSnapshot `json:"targets"`
}

// Snapshot copies the store. Value is the displayed value, which is what a
// freshly connected renderer should draw.
func (s *Store) Snapshot() Snapshot {
	out := Snapshot{Targets: make([]TargetSnapshot, 0, len(s.targets))}
	for _, t := range s.targets {
		ts := TargetSnapshot{Index: t.Index, Name: t.Name, Panels: make(map[protocol.Widget]PanelSnapshot, len(t.Panels))}
		for w, p := range t.Panels {
			ts.Panels[w] = PanelSnapshot{Value: p.Display, Max: p.Max, Muted: p.Muted, Visible: p.Visible}
		}
		out.Targets = append(out.Targets, ts)
	}
	return out
}

// SnapshotRequest asks the consumer loop for a Snapshot. It travels on the
// event bus like any other command but has no wire form.
type SnapshotRequest struct {
	Reply chan<- Snapshot
}

func (SnapshotRequest) CommandName() string { return "snapshot_request" }
