package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens a client from cfg.URL and verifies it with a PING.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("events.ConnectRedis: %w", err)
	}

	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events.ConnectRedis: ping: %w", err)
	}
	return client, nil
}

// Channel is the pub/sub channel carrying one auction's events.
func Channel(prefix string, auctionID uuid.UUID) string {
	return prefix + ":" + auctionID.String()
}

// RedisPublisher publishes every event as JSON to its auction's channel.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPublisher returns a Publisher backed by client.
func NewRedisPublisher(client *redis.Client, cfg config.RedisConfig) *RedisPublisher {
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "auction"
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisPublisher{client: client, prefix: prefix, timeout: timeout}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis_publisher.Publish: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Publish(ctx, Channel(p.prefix, ev.AuctionID), data).Err(); err != nil {
		return fmt.Errorf("redis_publisher.Publish: %w", err)
	}
	return nil
}
