// Package events provides an in-process publish/subscribe bus used to fan
// pipeline activity out to API clients and internal listeners.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Topic identifies a class of events on the bus.
type Topic string

// Topics published by the pipeline.
const (
	TopicProgress                Topic = "progress"
	TopicStatusChange            Topic = "statusChange"
	TopicJobUpdate               Topic = "jobUpdate"
	TopicJobComplete             Topic = "jobComplete"
	TopicPauseAfterCurrentChange Topic = "pauseAfterCurrentChange"
	TopicError                   Topic = "error"
	TopicConfigChanged           Topic = "configChanged"
)

// Event is a single bus message. Payload is typically a small struct or map
// that serializes cleanly to JSON for SSE delivery.
type Event struct {
	ID        string    `json:"id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Subscriber receives events on its channel. Events for topics the
// subscriber did not ask for are filtered out before delivery.
type Subscriber struct {
	ID     string
	Topics map[Topic]struct{}
	Events chan Event
}

// wants reports whether the subscriber should receive events for topic.
// An empty topic set means "all topics".
func (s *Subscriber) wants(topic Topic) bool {
	if len(s.Topics) == 0 {
		return true
	}
	_, ok := s.Topics[topic]
	return ok
}

// Bus is a topic-filtered broadcast bus. Delivery is per-subscriber
// in-order; a slow subscriber never blocks publishers, its events are
// dropped once its buffer fills.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
	closed      bool
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "event_bus"),
	}
}

// Subscribe registers a new subscriber. With no topics it receives every
// event. The returned subscriber must be released with Unsubscribe.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Events: make(chan Event, 100),
	}
	if len(topics) > 0 {
		sub.Topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.Topics[t] = struct{}{}
		}
	}

	if b.closed {
		close(sub.Events)
		return sub
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "topics", topics)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(b.subscribers, subscriberID)
		b.logger.Debug("subscriber removed", "subscriber_id", subscriberID)
	}
}

// UnsubscribeAll drops interest in topic across all subscribers. A
// subscriber left with no topics is removed entirely; catch-all
// subscribers are untouched.
func (b *Bus) UnsubscribeAll(topic Topic) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		if sub.Topics == nil {
			continue
		}
		if _, ok := sub.Topics[topic]; !ok {
			continue
		}
		delete(sub.Topics, topic)
		if len(sub.Topics) == 0 {
			close(sub.Events)
			delete(b.subscribers, id)
			b.logger.Debug("subscriber removed", "subscriber_id", id, "topic", topic)
		}
	}
}

// Publish broadcasts an event to every subscriber interested in topic.
// Publishing never blocks: subscribers whose buffers are full miss the
// event and a warning is logged.
func (b *Bus) Publish(topic Topic, payload any) {
	event := Event{
		ID:        ulid.Make().String(),
		Topic:     topic,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if !sub.wants(topic) {
			continue
		}
		b.deliver(sub, event)
	}
}

// deliver sends one event to one subscriber, isolating the publisher from
// a channel closed out from under us by a racing consumer.
func (b *Bus) deliver(sub *Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic delivering event",
				"subscriber_id", sub.ID,
				"topic", event.Topic,
				"panic", r,
			)
		}
	}()

	select {
	case sub.Events <- event:
	default:
		// Channel full, skip this event
		b.logger.Warn("subscriber event channel full, dropping event",
			"subscriber_id", sub.ID,
			"topic", event.Topic,
		)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the bus down and closes all subscriber channels. Publish
// becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subscribers {
		close(sub.Events)
		delete(b.subscribers, id)
	}
	b.logger.Debug("event bus closed")
}
