package state

import "context"

// TaskKind distinguishes the background jobs a panel can own.
type TaskKind int

const (
	// SmoothTransition animates the displayed value towards Current.
	SmoothTransition TaskKind = iota
	// DeferredClose hides the panel after a delay.
	DeferredClose
)

func (k TaskKind) String() string {
	switch k {
	case SmoothTransition:
		return "smooth_transition"
	case DeferredClose:
		return "deferred_close"
	default:
		return "unknown"
	}
}

// TaskHandle identifies one running background task.
type TaskHandle struct {
	ID     uint64
	Kind   TaskKind
	cancel context.CancelFunc
}

// Cancel stops the task. Cancelling a finished task is a no-op.
func (h TaskHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// TaskSet holds at most one live task per TaskKind.
//
// A TaskSet is owned by the daemon's consumer goroutine and is not safe for
// concurrent use. The spawned task functions must not touch it; they talk
// back to the owner through the event bus.
type TaskSet struct {
	live map[TaskKind]TaskHandle
}

// Start cancels and removes any live task of the same kind, then runs fn in a
// new goroutine under a child of parent and records it as the live task.
func (s *TaskSet) Start(parent context.Context, kind TaskKind, id uint64, fn func(ctx context.Context)) TaskHandle {
	if s.live == nil {
		s.live = make(map[TaskKind]TaskHandle)
	}
	if prev, ok := s.live[kind]; ok {
		prev.Cancel()
		delete(s.live, kind)
	}

	ctx, cancel := context.WithCancel(parent)
	h := TaskHandle{ID: id, Kind: kind, cancel: cancel}
	s.live[kind] = h

	go func() {
		defer cancel()
		fn(ctx)
	}()
	return h
}

// Cancel stops and removes the live task of kind. It reports whether one existed.
func (s *TaskSet) Cancel(kind TaskKind) bool {
	h, ok := s.live[kind]
	if !ok {
		return false
	}
	h.Cancel()
	delete(s.live, kind)
	return true
}

// Finish removes the entry for kind only if id is still the live task. A
// superseded task finishing late leaves its successor untouched.
func (s *TaskSet) Finish(kind TaskKind, id uint64) bool {
	h, ok := s.live[kind]
	if !ok || h.ID != id {
		return false
	}
	h.Cancel()
	delete(s.live, kind)
	return true
}

// IsLive reports whether id is the live task of kind.
func (s *TaskSet) IsLive(kind TaskKind, id uint64) bool {
	h, ok := s.live[kind]
	return ok && h.ID == id
}

// Active reports whether a task of kind is running.
func (s *TaskSet) Active(kind TaskKind) bool {
	_, ok := s.live[kind]
	return ok
}

// Len returns the number of live tasks.
func (s *TaskSet) Len() int { return len(s.live) }

// CancelAll stops every live task.
func (s *TaskSet) CancelAll() {
	for kind, h := range s.live {
		h.Cancel()
		delete(s.live, kind)
	}
}
