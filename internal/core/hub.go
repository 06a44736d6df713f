package core

import (
	"context"
	"slices"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/metrics"
)

// Publisher fans an event out to every subscriber of a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev *Event) error
}

type subscription struct {
	client *Client
	topic  string
	hold   bool
	reply  chan error
}

type activation struct {
	client   *Client
	snapshot *Event
	covered  func(*Event) bool
	reply    chan error
}

// publication travels through the publish queue. Activations share the queue
// with events so that everything published before an activation is routed first.
type publication struct {
	topic    string
	event    *Event
	activate *activation
}

// Hub owns all live subscriptions. A single goroutine (Run) mutates its state,
// so topics and clients are never shared across goroutines.
type Hub struct {
	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan publication
	stats       chan chan Stats
	done        chan struct{}

	clients map[*Client]struct{}
	topics  map[string]*Topic
	log     *zerolog.Logger
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients int
	Topics  int
}

// NewHub creates a new hub. Call Run to start it.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan publication, 256),
		stats:       make(chan chan Stats),
		done:        make(chan struct{}),
		clients:     make(map[*Client]struct{}),
		topics:      make(map[string]*Topic),
		log:         logger,
	}
}

// Run processes hub operations until ctx is cancelled.
// Event channels of clients still registered at shutdown are left open;
// their owners observe cancellation through their own contexts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.LiveClients.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case sub := <-h.subscribe:
			sub.reply <- h.handleSubscribe(sub)
		case sub := <-h.unsubscribe:
			sub.reply <- h.handleUnsubscribe(sub)
		case pub := <-h.publish:
			switch {
			case pub.activate != nil:
				pub.activate.reply <- h.handleActivate(pub.topic, pub.activate)
			case pub.event.Kind == EventAccessRevoked:
				h.revoke(pub.topic, pub.event.UserIDs)
			default:
				if t, ok := h.topics[pub.topic]; ok {
					if dropped := t.Broadcast(pub.event); dropped > 0 {
						h.log.Warn().Str("topic", pub.topic).Int("dropped", dropped).Msg("slow subscribers skipped event")
					}
				}
			}
		case reply := <-h.stats:
			reply <- Stats{Clients: len(h.clients), Topics: len(h.topics)}
		}
	}
}

func (h *Hub) handleSubscribe(sub subscription) error {
	if _, ok := h.clients[sub.client]; !ok {
		return ErrUnknownClient
	}
	if _, ok := sub.client.topics[sub.topic]; ok {
		return ErrAlreadySubscribed
	}
	t, ok := h.topics[sub.topic]
	if !ok {
		t = NewTopic(sub.topic)
		h.topics[sub.topic] = t
		metrics.LiveTopics.Inc()
	}
	t.AddClient(sub.client)
	sub.client.topics[sub.topic] = &clientTopic{held: sub.hold}
	return nil
}

func (h *Hub) handleActivate(topic string, act *activation) error {
	c := act.client
	st, ok := c.topics[topic]
	if !ok || !st.held {
		return ErrNotHeld
	}
	if !c.Offer(act.snapshot) {
		h.leave(c, topic)
		metrics.EventsDropped.Inc()
		return ErrSlowConsumer
	}

	backlog := st.backlog
	st.held, st.backlog, st.covered = false, nil, act.covered
	dropped := 0
	for _, ev := range backlog {
		if st.covered != nil && st.covered(ev) {
			continue
		}
		if !c.Offer(ev) {
			dropped++
			metrics.EventsDropped.Inc()
		}
	}
	if dropped > 0 {
		h.log.Warn().Str("topic", topic).Str("client_id", c.ID).Int("dropped", dropped).Msg("slow subscriber skipped backlog")
	}
	return nil
}

// revoke detaches the clients of userIDs from topic and tells them why.
func (h *Hub) revoke(topic string, userIDs []int64) {
	t, ok := h.topics[topic]
	if !ok {
		return
	}
	var evicted []*Client
	for c := range t.clients {
		if slices.Contains(userIDs, c.UserID) {
			evicted = append(evicted, c)
		}
	}
	for _, c := range evicted {
		h.leave(c, topic)
		c.Offer(&Event{
			Kind:  EventError,
			Topic: topic,
			Error: NewError(ErrCodeNotFriends, "conversation is no longer available"),
		})
	}
}

func (h *Hub) handleUnsubscribe(sub subscription) error {
	if _, ok := sub.client.topics[sub.topic]; !ok {
		return ErrNotSubscribed
	}
	h.leave(sub.client, sub.topic)
	return nil
}

func (h *Hub) leave(c *Client, topic string) {
	delete(c.topics, topic)
	t, ok := h.topics[topic]
	if !ok {
		return
	}
	t.RemoveClient(c)
	if t.Empty() {
		delete(h.topics, topic)
		metrics.LiveTopics.Dec()
	}
}

func (h *Hub) drop(c *Client) {
	for topic := range c.topics {
		h.leave(c, topic)
	}
	delete(h.clients, c)
	close(c.Events)
	metrics.LiveClients.Dec()
}

// RegisterClient adds a client to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a client from all topics and closes its event channel.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Subscribe attaches a registered client to topic. It returns once the subscription is active,
// so every event published afterwards reaches the client.
func (h *Hub) Subscribe(ctx context.Context, c *Client, topic string) error {
	return h.roundTrip(ctx, h.subscribe, subscription{client: c, topic: topic, reply: make(chan error, 1)})
}

// Hold subscribes c to topic but keeps its events in a backlog until Activate
// delivers the snapshot, so the snapshot is always the first event of the topic.
func (h *Hub) Hold(ctx context.Context, c *Client, topic string) error {
	return h.roundTrip(ctx, h.subscribe, subscription{client: c, topic: topic, hold: true, reply: make(chan error, 1)})
}

// Activate delivers snapshot to a held subscription and releases its backlog.
// Events for which covered returns true, now or later, are skipped because the
// snapshot already reflects them. covered runs on the hub goroutine and may be nil.
// If the client cannot take the snapshot, it is unsubscribed and ErrSlowConsumer returned.
func (h *Hub) Activate(ctx context.Context, c *Client, topic string, snapshot *Event, covered func(*Event) bool) error {
	snapshot.Topic = topic
	act := &activation{client: c, snapshot: snapshot, covered: covered, reply: make(chan error, 1)}
	select {
	case h.publish <- publication{topic: topic, activate: act}:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-act.reply:
		return err
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe detaches a client from topic.
func (h *Hub) Unsubscribe(ctx context.Context, c *Client, topic string) error {
	return h.roundTrip(ctx, h.unsubscribe, subscription{client: c, topic: topic, reply: make(chan error, 1)})
}

func (h *Hub) roundTrip(ctx context.Context, ch chan subscription, sub subscription) error {
	select {
	case ch <- sub:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sub.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish broadcasts ev to the subscribers of topic on this instance.
func (h *Hub) Publish(ctx context.Context, topic string, ev *Event) error {
	ev.Topic = topic
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.publish <- publication{topic: topic, event: ev}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current number of clients and topics.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, ErrHubStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

var _ Publisher = (*Hub)(nil)
