package core

const clientBuffer = 64

// Client is a live subscriber as seen by the core layer.
type Client struct {
	ID       string
	UserID   int64
	Username string
	Events   chan *Event
	topics   map[string]*clientTopic // owned by the hub goroutine
}

// clientTopic is the per-subscription state of a client.
type clientTopic struct {
	held    bool     // events wait in backlog until the snapshot is out
	backlog []*Event
	covered func(*Event) bool // events already reflected in the snapshot
}

// NewClient constructs a client with an initialized event channel.
func NewClient(id string, userID int64, username string) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Events:   make(chan *Event, clientBuffer),
		topics:   make(map[string]*clientTopic),
	}
}

// Offer enqueues an event without blocking. It reports false when the buffer is full.
// It must not be called after the client was unregistered.
func (c *Client) Offer(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// route hands an event published on topic to the client, honouring a held
// subscription. It reports false when the event had to be dropped.
func (c *Client) route(topic string, ev *Event) bool {
	st := c.topics[topic]
	if st != nil {
		if st.covered != nil && st.covered(ev) {
			return true
		}
		if st.held {
			if len(st.backlog) >= clientBuffer {
				return false
			}
			st.backlog = append(st.backlog, ev)
			return true
		}
	}
	return c.Offer(ev)
}
