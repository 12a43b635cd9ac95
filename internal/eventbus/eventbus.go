// Package eventbus implements the multiple-producer multiple-consumer
// internal event bus that decouples the WS multiplexer from the shared
// services (PTY engine, ACP bridge, tunnel supervisor, filesystem, git),
// avoiding direct cyclic references between them (spec.md §9).
package eventbus

import (
	"log/slog"
	"sync"
)

// Event is a topic-scoped payload published on the bus. Payload is
// typically an envelope-shaped value the WS multiplexer broadcasts
// verbatim to subscribed connections.
type Event struct {
	Topic   string
	Payload any
}

const subscriberBuffer = 4096

// subscriber wraps a channel with the topic it was registered under, so
// Unsubscribe can find and remove it without scanning every topic.
type subscriber struct {
	ch     chan Event
	topics map[string]struct{}
}

// Bus is a buffered, non-blocking publish/subscribe hub. Publish never
// blocks the caller: a subscriber whose buffer is full has its oldest
// queued event dropped to make room, and the drop is counted and logged,
// matching the "buffered, non-blocking publish with drop-oldest on
// overflow" requirement in spec.md §5.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{} // topic -> set of subscribers
	overflowed  uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers interest in one or more topics and returns a
// receive-only channel of matching events. Call Unsubscribe with the same
// channel to stop delivery and release resources.
func (b *Bus) Subscribe(topics ...string) <-chan Event {
	sub := &subscriber{
		ch:     make(chan Event, subscriberBuffer),
		topics: make(map[string]struct{}, len(topics)),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
		if b.subscribers[topic] == nil {
			b.subscribers[topic] = make(map[*subscriber]struct{})
		}
		b.subscribers[topic][sub] = struct{}{}
	}
	return sub.ch
}

// Unsubscribe removes the subscriber owning ch from every topic it was
// registered under and closes its channel. ch must be a value previously
// returned by Subscribe; calling Unsubscribe with any other channel is a
// no-op.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for sub := range subs {
			if sub.ch == ch {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.subscribers, topic)
				}
				close(sub.ch)
				return
			}
			_ = topic
		}
	}
}

// Publish delivers ev to every subscriber of ev.Topic. Delivery never
// blocks: if a subscriber's buffer is full, its oldest queued event is
// discarded to make room for ev.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Topic]
	// Copy under the read lock so we don't hold it across channel sends.
	targets := make([]*subscriber, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest queued event and retry once.
	select {
	case <-sub.ch:
		b.mu.Lock()
		b.overflowed++
		n := b.overflowed
		b.mu.Unlock()
		slog.Warn("eventbus: dropping oldest queued event, subscriber buffer full",
			"topic", ev.Topic, "total_overflows", n)
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		// Another publisher won the race for the slot we just freed;
		// this event is simply not delivered to this subscriber.
	}
}

// Overflows returns the cumulative count of drop-oldest events across all
// subscribers, for status reporting and tests.
func (b *Bus) Overflows() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overflowed
}
