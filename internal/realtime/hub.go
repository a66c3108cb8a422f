package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Event is a message published to a topic. Payload must be JSON-serializable;
// it is encoded once per subscriber at write time.
type Event struct {
	Topic   string `json:"topic"`
	Kind    string `json:"kind"`
	Payload any    `json:"payload,omitempty"`
}

// Subscription is one listener on a topic. Events arrive on C. The channel
// is buffered; a subscriber that stops draining loses events rather than
// blocking publishers.
type Subscription struct {
	C     chan Event
	topic string
	hub   *Hub
}

// Close removes the subscription from its topic. Safe to call once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub is an in-process publish/subscribe fan-out keyed by topic string.
// Topics follow the convention "user:<id>" for notification streams and
// "case:<id>" for case event streams.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	log    *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		log:    log,
	}
}

const subscriberBuffer = 16

// Subscribe registers a listener on topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	s := &Subscription{
		C:     make(chan Event, subscriberBuffer),
		topic: topic,
		hub:   h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[s.topic]
	if !ok {
		return
	}
	if _, present := subs[s]; !present {
		return
	}
	delete(subs, s)
	close(s.C)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
}

// Publish delivers ev to every subscriber of ev.Topic. Delivery is
// non-blocking: a subscriber with a full buffer is skipped, since a stream
// that has fallen this far behind will reconnect and reload anyway.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[ev.Topic] {
		select {
		case s.C <- ev:
		default:
			h.log.Warn("dropping realtime event for slow subscriber",
				zap.String("topic", ev.Topic),
				zap.String("kind", ev.Kind))
		}
	}
}

// Subscribers reports the current listener count on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
