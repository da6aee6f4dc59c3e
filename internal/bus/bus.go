// Package bus implements the small in-process event bus that connects the
// poller, hook ingestion, and the reconciler: typed, bounded, fire-and-forget.
package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Topic names the events the core passes over the bus.
type Topic string

const (
	TopicSnapshot       Topic = "multiplexer:snapshot"
	TopicHook           Topic = "assistant:hook"
	TopicStatusChanged  Topic = "session:status_changed"
	TopicErrorSet       Topic = "session:error_set"
	TopicErrorCleared   Topic = "session:error_cleared"
	TopicCaptured       Topic = "terminal:captured"
	TopicClientConnect  Topic = "client:connected"
	TopicClientDisconn  Topic = "client:disconnected"
	TopicSourceHealth   Topic = "source:health"
)

// DefaultQueueSize is the default bound on a subscriber's queue.
const DefaultQueueSize = 1024

// Event is a single name-tagged record delivered to subscribers.
type Event struct {
	Topic    Topic
	Payload  any
	High     bool // true for events that must never be dropped on overflow
}

// subscriber is one dispatcher goroutine draining a bounded queue in order.
// The queue is a plain mutex-guarded slice rather than a channel so that
// enqueue can scan it for a non-high-priority event to evict on overflow
// (a channel's buffered contents can't be inspected without draining them).
type subscriber struct {
	mu      sync.Mutex
	queue   []Event
	size    int
	notify  chan struct{}
	dropped atomic.Uint64
	handler func(Event)
}

// Bus is a single-process typed pub/sub. Delivery to one subscriber is
// sequential; delivery across subscribers is concurrent and fire-and-forget.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
	size int
}

// New builds a Bus whose subscriber queues hold queueSize events each.
// queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{subs: make(map[Topic][]*subscriber), size: queueSize}
}

// Subscribe registers handler to receive every event published on topic,
// starting a dedicated dispatcher goroutine that drains its queue until ctx
// is cancelled. handler must not block indefinitely; it runs on the
// dispatcher goroutine, never on the publisher's.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, handler func(Event)) {
	sub := &subscriber{size: b.size, notify: make(chan struct{}, 1), handler: handler}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go sub.run(ctx)
}

func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
			for {
				ev, ok := s.pop()
				if !ok {
					break
				}
				s.handler(ev)
			}
		}
	}
}

func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Publish fans ev out to every subscriber of ev.Topic. A full subscriber
// queue drops the oldest queued non-high-priority event to make room,
// per §4.6; a high-priority event that still can't be enqueued (because
// the queue is saturated with other high-priority events) is counted as
// dropped rather than blocking the publisher.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// enqueue appends ev to the queue, never blocking the publisher. On overflow
// it evicts the oldest non-high-priority queued event per §4.6; if every
// queued event is high-priority (or the queue holds ev itself with nothing
// else to evict), the new event is dropped instead of bumping a high one.
func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if len(s.queue) < s.size {
		s.queue = append(s.queue, ev)
		s.mu.Unlock()
		s.wake()
		return
	}

	victim := -1
	for i, q := range s.queue {
		if !q.High {
			victim = i
			break
		}
	}
	if victim == -1 {
		s.mu.Unlock()
		s.dropped.Add(1)
		log.Printf("[bus] dropped event on topic %s (subscriber queue saturated with high-priority events)", ev.Topic)
		return
	}
	s.queue = append(s.queue[:victim], s.queue[victim+1:]...)
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()

	s.dropped.Add(1)
	log.Printf("[bus] dropped oldest non-high-priority event to admit topic %s (subscriber queue full)", ev.Topic)
}

// DroppedCount is exposed for tests and health reporting.
func (s *subscriber) DroppedCount() uint64 {
	return s.dropped.Load()
}
