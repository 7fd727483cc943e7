package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis pub/sub publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to the event name to form the channel,
	// e.g. "collections:summaryUpdated".
	Prefix  string
	Timeout time.Duration
}

// RedisClientConstructor allows tests to swap the client.
type RedisClientConstructor func(opt *redis.Options) *redis.Client

// RedisPublisher publishes each event on its own Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher connects and pings Redis.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, newClient RedisClientConstructor) (*RedisPublisher, error) {
	if newClient == nil {
		newClient = redis.NewClient
	}
	client := newClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisPublisher{client: client, prefix: cfg.Prefix, timeout: timeout}, nil
}

// Channel returns the channel an event is published on.
func (p *RedisPublisher) Channel(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + ":" + event
}

func (p *RedisPublisher) Publish(ctx context.Context, event string, payload any) error {
	body, err := Encode(event, payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.Channel(event), body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
