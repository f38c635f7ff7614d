package event

import "sync/atomic"

// Subscriber receives events on a buffered channel. Delivery is
// best-effort: the bus never blocks a publishing processor on a slow
// consumer, it drops the event instead.
type Subscriber struct {
	id     string
	ch     chan *Event
	done   chan struct{}
	bus    *Bus
	topics []Topic
	closed atomic.Bool
}

func newSubscriber(id string, bufferSize int, bus *Bus) *Subscriber {
	return &Subscriber{
		id:   id,
		ch:   make(chan *Event, bufferSize),
		done: make(chan struct{}),
		bus:  bus,
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. The channel is never closed;
// consumers should select on Done or their own context alongside it.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Done is closed when the subscriber is closed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// send attempts a non-blocking delivery. Returns false if the event
// was dropped because the buffer is full or the subscriber is closed.
func (s *Subscriber) send(evt *Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

// Close detaches the subscriber from the bus. Safe to call multiple
// times.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.bus.unsubscribe(s)
		close(s.done)
	}
}
