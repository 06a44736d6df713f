// Package redis bridges hub events between server instances over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pairchat/internal/core"
	"github.com/vovakirdan/pairchat/internal/metrics"
)

// DefaultChannel is the Redis channel all instances share.
const DefaultChannel = "pairchat:events"

type envelope struct {
	Origin string      `json:"origin"`
	Topic  string      `json:"topic"`
	Event  *core.Event `json:"event"`
}

// Broker publishes events to the local hub and to Redis, and replays events
// published by other instances into the local hub.
type Broker struct {
	client  *goredis.Client
	local   core.Publisher
	channel string
	origin  string
	log     *zerolog.Logger
}

// New connects to redisURL and returns a broker feeding local.
func New(ctx context.Context, redisURL string, local core.Publisher, logger *zerolog.Logger) (*Broker, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, local, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, local core.Publisher, logger *zerolog.Logger) *Broker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Broker{
		client:  client,
		local:   local,
		channel: DefaultChannel,
		origin:  uuid.NewString(),
		log:     logger,
	}
}

// Publish delivers ev to local subscribers, then forwards it to other instances.
// A Redis failure is logged and counted; local delivery still happens.
func (b *Broker) Publish(ctx context.Context, topic string, ev *core.Event) error {
	if err := b.local.Publish(ctx, topic, ev); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Topic: topic, Event: ev})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		metrics.BrokerErrors.WithLabelValues("publish").Inc()
		b.log.Warn().Err(err).Str("topic", topic).Msg("redis publish failed")
	}
	return nil
}

// Run receives events from other instances until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info().Str("channel", b.channel).Str("origin", b.origin).Msg("redis broker subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Broker) handle(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == nil {
		metrics.BrokerErrors.WithLabelValues("decode").Inc()
		b.log.Warn().Err(err).Msg("drop malformed broker payload")
		return
	}
	if env.Origin == b.origin {
		return
	}
	if err := b.local.Publish(ctx, env.Topic, env.Event); err != nil {
		b.log.Debug().Err(err).Str("topic", env.Topic).Msg("local publish failed")
	}
}

// Close releases the Redis client.
func (b *Broker) Close() error {
	return b.client.Close()
}

var _ core.Publisher = (*Broker)(nil)
