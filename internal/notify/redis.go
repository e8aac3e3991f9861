package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"medichain/internal/config"
	"medichain/pkg/domain"
)

// Publisher is the subset of a go-redis client used by RedisSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes notifications as JSON on a redis channel.
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink wraps client. An empty channel uses the configured default.
func NewRedisSink(client Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = config.Defaults().RedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// NewRedisClient builds a go-redis client from cfg. It returns nil when no
// address is configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Channel returns the channel notifications are published on.
func (s *RedisSink) Channel() string { return s.channel }

// Handle is a Handler publishing n.
func (s *RedisSink) Handle(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification %s: %w", n.ID, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", n.Kind, s.channel, err)
	}
	return nil
}
