// Package events implements the bounded multi-producer / multi-consumer
// notification channel of spec.md §4.4, grounded on
// original_source/src/eventstream.{h,cpp} (EventStream::Send/Receive/Close,
// EventSender's middleware-wrapped subscriptions).
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sua-org/scope-bus/internal/core"
)

const defaultCapacity = 256

// Stream is a bounded-capacity FIFO per subscriber with blocking send. A
// closed stream drops further sends and wakes all receivers with an
// end-of-stream signal, matching the C++ original's condvar-based queue.
type Stream struct {
	id uuid.UUID

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []core.Event
	closed bool
	cap    int
}

// NewStream creates a subscriber-side event stream with the given buffer
// capacity (0 uses the default).
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	s := &Stream{id: uuid.New(), cap: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stream) ID() uuid.UUID { return s.id }

// Send enqueues e, blocking while the stream is at capacity. It reports
// false if the stream is already closed.
func (s *Stream) Send(e core.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for len(s.queue) >= s.cap && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return false
	}
	s.queue = append(s.queue, e)
	s.cond.Broadcast()
	return true
}

// Recv blocks until an event is available or the stream is closed. The
// second return value is false only once the stream is closed and drained,
// matching the "None means closed" contract of spec.md §4.4.
func (s *Stream) Recv() (core.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return core.Event{}, false
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	s.cond.Broadcast()
	return e, true
}

// Close marks the stream closed and wakes every blocked sender/receiver.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}

// Middleware mutates an event before it is forwarded to a subscriber; the
// device hub uses it to stamp device names onto events raised by drivers.
type Middleware func(*core.Event)

type subscription struct {
	stream     *Stream
	middleware Middleware
}

// Sender is embedded by any component that emits events to subscribers
// (devices, the hub, channel control, tasks). It mirrors the C++
// EventSender mixin.
type Sender struct {
	mu   sync.Mutex
	subs []subscription
}

// Subscribe attaches stream with an optional middleware. Passing a nil
// middleware forwards events unmodified.
func (s *Sender) Subscribe(stream *Stream, middleware Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{stream: stream, middleware: middleware})
}

// Emit sends e to every subscriber, applying each subscriber's middleware
// first. A subscriber whose stream has been closed is treated as "gone":
// Send's false return is ignored, matching spec.md §4.4's no-backpressure
// contract.
func (s *Sender) Emit(e core.Event) {
	s.mu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		out := e
		if sub.middleware != nil {
			sub.middleware(&out)
		}
		sub.stream.Send(out)
	}
}
