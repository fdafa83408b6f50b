package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const connectTimeout = 5 * time.Second

// Client holds live game states, game locks and query deadlines.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and checks the connection before returning.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Wrap builds a Client over an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// EnableExpiryEvents turns on expired-key notifications, which is how query
// deadlines are noticed without polling.
func (c *Client) EnableExpiryEvents(ctx context.Context) error {
	if err := c.rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("enable keyspace notifications: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw client, used to subscribe to expiry events.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
