package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const DefaultChannel = "hms:queue-events"

// NewRedisClient parses a redis:// URL.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes events as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay forwards events received on a Redis channel to a local publisher,
// normally the websocket hub.
type Relay struct {
	client  *redis.Client
	channel string
	sink    Publisher
	logger  zerolog.Logger
}

func NewRelay(client *redis.Client, channel string, sink Publisher, logger zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, sink: sink, logger: logger}
}

// Start subscribes and returns once the subscription is confirmed. Delivery
// continues in the background until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.deliver(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.logger.Warn().Err(err).Msg("drop malformed queue event")
		return
	}
	if err := r.sink.Publish(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("topic", ev.Topic()).Msg("relay queue event")
	}
}
