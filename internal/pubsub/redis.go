package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// StatusChannel is the Redis channel status updates are mirrored to.
const StatusChannel = "status_updates"

// RedisPublisher publishes status updates to a Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis at addr and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// PublishStatus publishes the update as JSON on the status channel.
func (p *RedisPublisher) PublishStatus(ctx context.Context, upd StatusUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}

	if err := p.client.Publish(ctx, StatusChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish status update: %w", err)
	}

	return nil
}

// Close closes the underlying Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
