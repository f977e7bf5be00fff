// Package realtime owns the websocket fanout: one room per conversation,
// events broadcast to everyone in the room except the originator.
package realtime

import (
	"sync"

	"github.com/soletrade/livechat/internal/chatwire"
)

// Client is one connected socket. Send is drained by a single writer
// goroutine; it is never closed so concurrent broadcasters stay safe, done
// signals shutdown instead.
type Client struct {
	Role string // customer | admin
	Send chan chatwire.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(role string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		Role: role,
		Send: make(chan chatwire.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) enqueue(env chatwire.Envelope) bool {
	select {
	case c.Send <- env:
		return true
	case <-c.done:
		return false
	default:
		// slow consumer; drop rather than stall the room
		return false
	}
}

// Fanout relays room events to other server instances.
type Fanout interface {
	Publish(conversationID string, env chatwire.Envelope)
}

type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Client]struct{}
	fanout Fanout
}

func NewHub(fanout Fanout) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		fanout: fanout,
	}
}

// Join moves the client into the conversation's room, leaving any previous
// room first; a client is in at most one room.
func (h *Hub) Join(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) {
	for id, room := range h.rooms {
		if _, ok := room[c]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, id)
			}
		}
	}
}

// Broadcast delivers env to every room member except exclude, then hands it
// to the fanout for other instances. Pass a nil exclude to reach everyone.
func (h *Hub) Broadcast(conversationID string, exclude *Client, env chatwire.Envelope) {
	h.deliverLocal(conversationID, exclude, env)
	if h.fanout != nil {
		h.fanout.Publish(conversationID, env)
	}
}

// DeliverLocal applies an event received from another instance's fanout.
func (h *Hub) DeliverLocal(conversationID string, env chatwire.Envelope) {
	h.deliverLocal(conversationID, nil, env)
}

func (h *Hub) deliverLocal(conversationID string, exclude *Client, env chatwire.Envelope) {
	h.mu.Lock()
	var targets []*Client
	for c := range h.rooms[conversationID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(env)
	}
}

// HasRole reports whether anyone with the given role is in the room. Used to
// decide whether a customer message needs an offline alert.
func (h *Hub) HasRole(conversationID, role string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[conversationID] {
		if c.Role == role {
			return true
		}
	}
	return false
}
