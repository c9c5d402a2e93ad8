// Package shutdown broadcasts a one-shot stop request to every goroutine of the
// daemon and bounds how long a cooperative exit may take.
package shutdown

import (
	"context"
	"sync"
	"time"
)

// DefaultGrace is how long the daemon waits for a cooperative exit before
// forcing the process down.
const DefaultGrace = 2 * time.Second

// Signal is a broadcast stop request. The zero value is not usable; call New.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trigger requests shutdown. Safe to call any number of times from any goroutine.
func (s *Signal) Trigger() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once Trigger has been called.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Triggered reports whether Trigger has been called.
func (s *Signal) Triggered() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Context returns a child of parent that is canceled when the signal fires.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// WaitGrace waits for done to close. It returns false if grace elapses first.
func WaitGrace(done <-chan struct{}, grace time.Duration) bool {
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
