package sse

import "sync"

// Hub routes change notifications to per-topic subscriber channels.
// Subscribers own their channels: the hub never closes them, and sends
// are non-blocking so a stalled client drops notifications instead of
// stalling publishers. Dropped notifications are safe because every
// delivery triggers a full snapshot re-query.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers ch for a topic. Callers should pass a buffered
// channel and must Unsubscribe before discarding it.
func (h *Hub) Subscribe(ch chan []byte, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan []byte]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
}

// Unsubscribe detaches ch from a topic; no further sends occur after it
// returns.
func (h *Hub) Unsubscribe(ch chan []byte, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// PublishTopic delivers msg to every subscriber of topic.
func (h *Hub) PublishTopic(topic string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[topic] {
		select {
		case ch <- msg:
		default:
			// client not reading; it will catch up on its next snapshot
		}
	}
}
