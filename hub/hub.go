// Package hub is the fanout broadcaster: a process-wide registry of live
// connections keyed by destination. It holds no durable state; it is created
// at process start and torn down with the process.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"chat-server/metrics"
	"chat-server/models"
)

// Destination keys. Channel and group messages publish to the single shared
// key for the conversation; direct messages publish to the personal keys of
// both parties. Presence events go to the process-wide status key.
const StatusKey = "user-status"

func UserKey(userID string) string {
	return "user:" + userID
}

func ChannelKey(channelID string) string {
	return "channel:" + channelID
}

func GroupKey(groupID string) string {
	return "group:" + groupID
}

// KeyFor maps a routed destination to its subscription key. For direct
// messages this is the recipient's personal key; the caller publishes to the
// sender's key separately.
func KeyFor(dest models.Destination) string {
	switch dest.Kind {
	case models.DestChannel:
		return ChannelKey(dest.ID)
	case models.DestGroup:
		return GroupKey(dest.ID)
	default:
		return UserKey(dest.ID)
	}
}

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Client]bool
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*Client]bool),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Subscribe(key string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Client]bool)
		h.subs[key] = set
	}
	set[c] = true
	c.keys[key] = true
}

func (h *Hub) Unsubscribe(key string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[key]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	delete(c.keys, key)
}

// remove drops a client from every destination it is subscribed to. Called
// once when the connection goes away.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key := range c.keys {
		if set, ok := h.subs[key]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
	}
	c.keys = make(map[string]bool)
}

// Publish delivers the event to every connection currently subscribed to the
// key. Delivery is at-most-once: a subscriber whose buffer is full misses the
// event, and the publisher never blocks.
func (h *Hub) Publish(key string, event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(event.Type)).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.subs[key] {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	if dropped > 0 {
		metrics.EventsDropped.Add(float64(dropped))
		h.logger.Warn().Str("key", key).Str("event", string(event.Type)).
			Int("dropped", dropped).Msg("slow subscribers missed event")
	}
}

// Subscribers reports how many connections are subscribed to a key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}
