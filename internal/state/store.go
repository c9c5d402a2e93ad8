// Package state holds the per-monitor widget state owned by the daemon's
// consumer loop.
package state

import (
	"fmt"
	"math"

	"overlayd/internal/protocol"
)

// PanelDefaults seeds a Panel when the store is built.
type PanelDefaults struct {
	Max     float64
	Initial float64
	Step    float64
}

// Panel is the state of one widget on one monitor.
type Panel struct {
	Widget protocol.Widget

	// Current is the authoritative value. It jumps to the target as soon as a
	// change is requested, while Display trails it during a ramp.
	Current float64

	// Display is the last value handed to the renderer.
	Display float64

	Max  float64
	Step float64

	Muted   bool
	Visible bool

	Tasks TaskSet
}

// Clamp limits v to [0, Max].
func (p *Panel) Clamp(v float64) float64 {
	return math.Min(math.Max(v, 0), p.Max)
}

// Quantize rounds v to the nearest multiple of Step and clamps the result.
func (p *Panel) Quantize(v float64) float64 {
	v = p.Clamp(v)
	if p.Step > 0 {
		v = math.Round(v/p.Step) * p.Step
	}
	return p.Clamp(v)
}

// Target is one monitor with its widgets.
type Target struct {
	Index  int
	Name   string
	Panels map[protocol.Widget]*Panel
}

// Store is the full daemon state: one Target per configured monitor.
type Store struct {
	targets []*Target
	nextID  uint64
}

// NewStore builds a Target per monitor name. Widgets without defaults get a
// zero-range panel, which is what the launcher uses.
func NewStore(monitors []string, defaults map[protocol.Widget]PanelDefaults) *Store {
	s := &Store{}
	for i, name := range monitors {
		t := &Target{Index: i, Name: name, Panels: make(map[protocol.Widget]*Panel, len(protocol.Widgets))}
		for _, w := range protocol.Widgets {
			d := defaults[w]
			p := &Panel{Widget: w, Max: d.Max, Step: d.Step}
			p.Current = p.Clamp(d.Initial)
			p.Display = p.Current
			t.Panels[w] = p
		}
		s.targets = append(s.targets, t)
	}
	return s
}

// Len is the number of monitors.
func (s *Store) Len() int { return len(s.targets) }

// Target returns monitor i, or nil if out of range.
func (s *Store) Target(i int) *Target {
	if i < 0 || i >= len(s.targets) {
		return nil
	}
	return s.targets[i]
}

// Panel returns widget w on monitor i.
func (s *Store) Panel(i int, w protocol.Widget) (*Panel, error) {
	t := s.Target(i)
	if t == nil {
		return nil, fmt.Errorf("%w: monitor %d (have %d)", protocol.ErrTargetOutOfRange, i, len(s.targets))
	}
	p, ok := t.Panels[w]
	if !ok {
		return nil, fmt.Errorf("unknown widget %q", w)
	}
	return p, nil
}

// Resolve expands sel against the configured monitors.
func (s *Store) Resolve(sel protocol.TargetSelector) ([]int, error) {
	return sel.Resolve(len(s.targets))
}

// NextTaskID returns a fresh, strictly increasing task id. Zero is never used.
func (s *Store) NextTaskID() uint64 {
	s.nextID++
	return s.nextID
}

// LiveTasks counts running tasks across all panels.
func (s *Store) LiveTasks() int {
	n := 0
	for _, t := range s.targets {
		for _, p := range t.Panels {
			n += p.Tasks.Len()
		}
	}
	return n
}

// CancelAll stops every background task of every panel.
func (s *Store) CancelAll() {
	for _, t := range s.targets {
		for _, p := range t.Panels {
			p.Tasks.CancelAll()
		}
	}
}
