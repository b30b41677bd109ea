package ws

import (
	"encoding/json"
	"sync"
)

// Subscriber is a connection the hub can fan frames out to.
type Subscriber interface {
	Enqueue(frame []byte) bool
	UserID() int64
}

// Hub is the subscription registry: destination -> set of subscribers.
// Private per-user feeds are registered under canonical keys that include
// the user id; the frames delivered still carry the client-facing
// destination the subscriber asked for.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{}
	// conn -> destinations, for cleanup on disconnect
	byConn map[Subscriber]map[string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[Subscriber]struct{}),
		byConn: make(map[Subscriber]map[string]struct{}),
	}
}

// ReadReceiptsKey is the canonical registry key for a user's receipt feed.
func ReadReceiptsKey(userID int64) string {
	return "user." + itoa(userID) + ".read-receipts"
}

// PersonalKey is the canonical registry key for a user's personal feed.
func PersonalKey(userID int64) string {
	return "user." + itoa(userID) + ".messages"
}

func itoa(v int64) string {
	// small positive ids only, avoids fmt in the hot path
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Subscribe attaches a connection to a canonical destination key.
func (h *Hub) Subscribe(c Subscriber, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[key]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[key] = set
	}
	set[c] = struct{}{}

	dests, ok := h.byConn[c]
	if !ok {
		dests = make(map[string]struct{})
		h.byConn[c] = dests
	}
	dests[key] = struct{}{}
}

// RemoveConn detaches a connection from every destination.
func (h *Hub) RemoveConn(c Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.byConn[c] {
		if set, ok := h.subs[key]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, key)
			}
		}
	}
	delete(h.byConn, c)
}

// Publish fans a message frame out to every subscriber of the canonical key.
// The frame's destination is the client-facing one. Delivery is best-effort;
// a subscriber with a full buffer misses the frame.
func (h *Hub) Publish(key, destination string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Frame{
		Type:        TypeMessage,
		Destination: destination,
		Payload:     body,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subs[key] {
		c.Enqueue(frame)
	}
}
