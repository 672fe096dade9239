package services

import (
	"sync"

	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/sirupsen/logrus"
)

// Broadcast group names
const (
	GroupAdmin = "admin"
	GroupStaff = "staff"
)

// OrderGroup is the audience watching a single order.
func OrderGroup(orderID string) string {
	return "order-" + orderID
}

// CustomerGroup is the audience of the customer who placed an order.
func CustomerGroup(key string) string {
	return "customer-" + key
}

// Broadcaster delivers an event to connected members of named groups.
// Delivery is at most once per member per call and never blocks.
type Broadcaster interface {
	Broadcast(event string, payload any, groups ...string)
	BroadcastAll(event string, payload any)
}

// NoopBroadcaster discards every event.
type NoopBroadcaster struct{}

func (NoopBroadcaster) Broadcast(event string, payload any, groups ...string) {}
func (NoopBroadcaster) BroadcastAll(event string, payload any)                {}

// Message is one event as sent to a client.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Client is one connected member of the hub.
type Client struct {
	ID   string
	send chan Message
}

// Send is the client's outbound queue. It is closed on Unregister.
func (c *Client) Send() <-chan Message {
	return c.send
}

// Hub keeps group membership for connected clients in memory.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	groups  map[string]map[*Client]struct{}
	buffer  int
}

// NewHub creates a hub whose clients buffer up to buffer pending messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		clients: make(map[*Client]map[string]struct{}),
		groups:  make(map[string]map[*Client]struct{}),
		buffer:  buffer,
	}
}

// Register adds a client that belongs to no group yet.
func (h *Hub) Register(id string) *Client {
	c := &Client{ID: id, send: make(chan Message, h.buffer)}
	h.mu.Lock()
	h.clients[c] = make(map[string]struct{})
	h.mu.Unlock()
	return c
}

// Unregister removes the client from every group and closes its queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return
	}
	for g := range joined {
		h.removeLocked(c, g)
	}
	delete(h.clients, c)
	close(c.send)
}

// Join adds the client to group. Joining twice is a no-op.
func (h *Hub) Join(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[*Client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	joined[group] = struct{}{}
}

// Leave removes the client from group.
func (h *Hub) Leave(c *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if joined, ok := h.clients[c]; ok {
		delete(joined, group)
		h.removeLocked(c, group)
	}
}

func (h *Hub) removeLocked(c *Client, group string) {
	members := h.groups[group]
	delete(members, c)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Broadcast sends the event once to every member of any listed group.
func (h *Hub) Broadcast(event string, payload any, groups ...string) {
	h.Deliver(event, payload, groups...)
}

// BroadcastAll sends the event to every connected client.
func (h *Hub) BroadcastAll(event string, payload any) {
	h.DeliverAll(event, payload)
}

// Deliver is Broadcast returning how many clients were sent the event.
// Clients whose queue is full miss it.
func (h *Hub) Deliver(event string, payload any, groups ...string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, g := range groups {
		for c := range h.groups[g] {
			seen[c] = struct{}{}
		}
	}
	return h.sendLocked(event, payload, seen)
}

// DeliverAll is BroadcastAll returning how many clients were sent the event.
func (h *Hub) DeliverAll(event string, payload any) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := make(map[*Client]struct{}, len(h.clients))
	for c := range h.clients {
		all[c] = struct{}{}
	}
	return h.sendLocked(event, payload, all)
}

func (h *Hub) sendLocked(event string, payload any, targets map[*Client]struct{}) int {
	msg := Message{Event: event, Data: payload}
	delivered := 0
	for c := range targets {
		select {
		case c.send <- msg:
			delivered++
		default:
			logger.WithFields(logrus.Fields{
				"event":  event,
				"client": c.ID,
			}).Warn("Client send buffer full, dropping event")
		}
	}
	return delivered
}

// SendTo queues an event for a single client, typically a reply to one of
// its own requests. Returns false if the client is gone or its queue is full.
func (h *Hub) SendTo(c *Client, event string, payload any) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	return h.sendLocked(event, payload, map[*Client]struct{}{c: {}}) == 1
}

// GroupSize reports how many clients are in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
