package protocol

import "fmt"

// TargetSelector picks the monitors a command applies to. The zero value
// selects every monitor.
type TargetSelector struct {
	Single bool `json:"single,omitempty"`
	Index  int  `json:"index,omitempty"`
}

// AllTargets selects every configured monitor.
func AllTargets() TargetSelector { return TargetSelector{} }

// SingleTarget selects exactly one monitor by index.
func SingleTarget(index int) TargetSelector {
	return TargetSelector{Single: true, Index: index}
}

// Resolve expands the selector into concrete monitor indices given the number
// of configured monitors.
func (s TargetSelector) Resolve(count int) ([]int, error) {
	if s.Single {
		if s.Index < 0 || s.Index >= count {
			return nil, fmt.Errorf("%w: monitor %d (have %d)", ErrTargetOutOfRange, s.Index, count)
		}
		return []int{s.Index}, nil
	}
	out := make([]int, count)
	for i := range out {
		out[i] = i
	}
	return out, nil
}

func (s TargetSelector) String() string {
	if s.Single {
		return fmt.Sprintf("monitor %d", s.Index)
	}
	return "all monitors"
}
