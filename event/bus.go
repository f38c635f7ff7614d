package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medusavr/renderq/id"
	"github.com/medusavr/renderq/job"
)

// Handler is a callback invoked with a snapshot of the job that
// triggered the event. Handlers run synchronously on the publishing
// goroutine; long work belongs behind a channel subscriber instead.
type Handler func(ctx context.Context, j *job.Job)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 64

// Bus is the in-process publish/subscribe hub for job lifecycle events.
// It is owned by the engine and handed to the subsystems that publish
// into it. Safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	subs     map[Topic]map[string]*Subscriber

	logger     *slog.Logger
	bufferSize int

	published atomic.Int64
	dropped   atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(n int) BusOption {
	return func(b *Bus) { b.bufferSize = n }
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger, opts ...BusOption) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		handlers:   make(map[Topic][]Handler),
		subs:       make(map[Topic]map[string]*Subscriber),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic. Handlers cannot be
// removed; they live as long as the bus.
func (b *Bus) Subscribe(topic Topic, h Handler) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.mu.Unlock()
}

// SubscribeChan creates a buffered channel subscriber on the given
// topics. Events are dropped, not blocked on, when the buffer is full.
// The caller must Close the subscriber when done.
func (b *Bus) SubscribeChan(topics ...Topic) *Subscriber {
	sub := newSubscriber(id.NewSubscriberID().String(), b.bufferSize, b)

	b.mu.Lock()
	for _, topic := range topics {
		set, ok := b.subs[topic]
		if !ok {
			set = make(map[string]*Subscriber)
			b.subs[topic] = set
		}
		set[sub.id] = sub
		sub.topics = append(sub.topics, topic)
	}
	b.mu.Unlock()
	return sub
}

// Publish delivers a snapshot of j to every handler and channel
// subscriber on the topic. Handler panics are recovered and logged;
// they never propagate into the publishing subsystem.
func (b *Bus) Publish(ctx context.Context, topic Topic, j *job.Job) {
	snapshot := j.Clone()

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	subs := make([]*Subscriber, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, topic, h, snapshot)
	}

	if len(subs) > 0 {
		evt := &Event{Topic: topic, Timestamp: time.Now().UTC(), Job: snapshot}
		for _, s := range subs {
			if !s.send(evt) {
				b.dropped.Add(1)
				b.logger.Debug("event dropped for slow subscriber",
					slog.String("subscriber", s.id),
					slog.String("topic", string(topic)),
					slog.String("job_id", snapshot.ID.String()),
				)
			}
		}
	}

	b.published.Add(1)
}

func (b *Bus) invoke(ctx context.Context, topic Topic, h Handler, snapshot *job.Job) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("topic", string(topic)),
				slog.String("job_id", snapshot.ID.String()),
				slog.Any("panic", r),
			)
		}
	}()
	h(ctx, snapshot)
}

// Published returns the total number of events published.
func (b *Bus) Published() int64 { return b.published.Load() }

// Dropped returns the total number of events dropped on full buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// unsubscribe removes a subscriber from every topic it is on.
func (b *Bus) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	for _, topic := range sub.topics {
		if set, ok := b.subs[topic]; ok {
			delete(set, sub.id)
			if len(set) == 0 {
				delete(b.subs, topic)
			}
		}
	}
	b.mu.Unlock()
}
