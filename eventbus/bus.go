package eventbus

import (
	"sync"
	"time"
)

// defaultBuffer bounds the per-execution channel (spec §5: "no blocking
// system call between suspension points" — Publish must never block the
// publishing runtime on a slow subscriber).
const defaultBuffer = 256

// stream is the internal state for one execution's event channel.
type stream struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// Bus is the process-wide, per-execution Event Bus. Delivery is
// best-effort in-order per execution and Publish never blocks: an event is
// dropped when its stream's buffer (defaultBuffer events) is full, whether
// or not a subscriber is reading.
type Bus struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{streams: make(map[string]*stream)}
}

// Open registers a new stream for an execution-id and returns the
// subscriber-facing receive channel. Open must be called before the first
// Publish for that execution-id.
func (b *Bus) Open(executionID string) <-chan Event {
	s := &stream{ch: make(chan Event, defaultBuffer)}
	b.mu.Lock()
	b.streams[executionID] = s
	b.mu.Unlock()
	return s.ch
}

// Publish appends an event to an execution's stream. Publish is a no-op
// (not an error) if the stream was never opened or has already been
// closed — publication happens from many goroutines (team members,
// workflow nodes) that must never be blocked by event delivery.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	s, ok := b.streams[ev.ExecutionID]
	b.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Subscriber too slow or absent: drop rather than block the
		// publishing runtime, per spec §4.6.
	}
}

// Close marks an execution's stream terminal: the channel is closed after
// the final event is delivered, and the stream entry is dropped from the
// bus. Close is idempotent.
func (b *Bus) Close(executionID string) {
	b.mu.Lock()
	s, ok := b.streams[executionID]
	if ok {
		delete(b.streams, executionID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// PublishTerminal publishes ev and then closes the stream in one call, so
// "terminal event emitted exactly once, after every non-terminal event"
// (spec §8) is structurally guaranteed: no Publish can race in after
// Close drops the stream from the map under the same lock discipline.
func (b *Bus) PublishTerminal(ev Event) {
	b.Publish(ev)
	b.Close(ev.ExecutionID)
}
