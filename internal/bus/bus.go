// Package bus carries Envelopes from many producers (socket connections,
// background animation tasks, the websocket server) to the daemon's single
// consumer loop.
package bus

import (
	"sync"

	"overlayd/internal/protocol"
)

// Envelope is one unit of work for the consumer loop.
type Envelope struct {
	Command protocol.Command

	// Reply receives exactly one Response when set. Connection handlers pass a
	// buffered channel; envelopes produced inside the daemon leave it nil.
	Reply chan<- protocol.Response

	// CorrelationID ties log lines of one request together.
	CorrelationID string

	// Targets is filled in at dispatch time from the command's selector unless
	// the producer already pinned a target.
	Targets []int

	// TaskID is non-zero for envelopes produced by a background task. The
	// consumer drops them once that task is no longer the live one.
	TaskID uint64
}

// Respond delivers r on the reply channel, if any. It never blocks.
func (e Envelope) Respond(r protocol.Response) {
	if e.Reply == nil {
		return
	}
	select {
	case e.Reply <- r:
	default:
	}
}

// Bus is an unbounded multi-producer single-consumer queue. Publish never
// blocks; a pump goroutine feeds Out in FIFO order.
type Bus struct {
	mu     sync.Mutex
	queue  []Envelope
	closed bool

	notify chan struct{}
	stop   chan struct{}
	out    chan Envelope

	closeOnce sync.Once
}

// New creates a bus and starts its pump.
func New() *Bus {
	b := &Bus{
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		out:    make(chan Envelope),
	}
	go b.pump()
	return b
}

// Publish appends env to the queue. It returns false once the bus is closed.
func (b *Bus) Publish(env Envelope) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, env)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return true
}

// Out is the consumer side. It is closed after Close.
func (b *Bus) Out() <-chan Envelope { return b.out }

// Len reports the number of envelopes not yet handed to the consumer.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Close stops accepting envelopes and discards anything still queued. Producers
// waiting on a reply must watch the shutdown signal as well.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.queue = nil
		b.mu.Unlock()
		close(b.stop)
	})
}

func (b *Bus) pump() {
	defer close(b.out)

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			select {
			case <-b.notify:
				continue
			case <-b.stop:
				return
			}
		}
		env := b.queue[0]
		b.queue[0] = Envelope{}
		b.queue = b.queue[1:]
		b.mu.Unlock()

		select {
		case b.out <- env:
		case <-b.stop:
			return
		}
	}
}
