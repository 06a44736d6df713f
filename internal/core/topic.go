package core

import "github.com/vovakirdan/pairchat/internal/metrics"

// Topic groups clients subscribed to the same live query.
type Topic struct {
	Name    string
	clients map[*Client]struct{}
}

// NewTopic constructs a topic with no subscribers.
func NewTopic(name string) *Topic {
	return &Topic{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the topic. Returns true if newly added.
func (t *Topic) AddClient(c *Client) bool {
	if _, exists := t.clients[c]; exists {
		return false
	}
	t.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the topic. Returns true if removed.
func (t *Topic) RemoveClient(c *Client) bool {
	if _, exists := t.clients[c]; !exists {
		return false
	}
	delete(t.clients, c)
	return true
}

// Broadcast sends an event to all subscribers and returns how many were skipped.
func (t *Topic) Broadcast(event *Event) int {
	dropped := 0
	for client := range t.clients {
		if !client.route(t.Name, event) {
			// Drop if slow consumer.
			dropped++
			metrics.EventsDropped.Inc()
		}
	}
	return dropped
}

// Empty returns true if no clients are subscribed.
func (t *Topic) Empty() bool {
	return len(t.clients) == 0
}

// Len returns the number of subscribers.
func (t *Topic) Len() int {
	return len(t.clients)
}
