package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/civicledger/approvald/internal/models"
)

// DefaultChannelPrefix prefixes every Redis channel name.
const DefaultChannelPrefix = "approvals."

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisSink publishes events to Redis pub/sub, one channel per event type.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to Redis.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisSinkWithClient(client, cfg.ChannelPrefix)
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel returns the channel an event type is published on.
func (s *RedisSink) Channel(eventType models.EventType) string {
	return s.prefix + string(eventType)
}

// Publish implements Sink.
func (s *RedisSink) Publish(ctx context.Context, event *models.Event) error {
	if event == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	if err := s.client.Publish(ctx, s.Channel(event.Type), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
	}
	return nil
}

// Subscribe returns a pub/sub subscription to the given event types, or to
// every type when none are given.
func (s *RedisSink) Subscribe(ctx context.Context, eventTypes ...models.EventType) *redis.PubSub {
	if len(eventTypes) == 0 {
		return s.client.PSubscribe(ctx, s.prefix+"*")
	}
	channels := make([]string, len(eventTypes))
	for i, t := range eventTypes {
		channels[i] = s.Channel(t)
	}
	return s.client.Subscribe(ctx, channels...)
}

// Ping checks connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
