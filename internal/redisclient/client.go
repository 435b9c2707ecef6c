package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquirePriceLock takes a short lock on a price record so two guarded updates
// on the same node cannot both validate against a stale old price.
// Returns false when another update holds the lock.
func (c *Client) AcquirePriceLock(ctx context.Context, priceID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:price:%s", priceID), "1", ttl).Result()
}

// ReleasePriceLock releases a price update lock
func (c *Client) ReleasePriceLock(ctx context.Context, priceID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:price:%s", priceID)).Err()
}

// EventSeen is the fast-path duplicate check in front of the
// processed_events table
func (c *Client) EventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("event:%s", eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventSeen records an applied sync event ID with a TTL
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("event:%s", eventID), "1", ttl).Err()
}

// SetSyncState caches the sync engine connectivity state for status queries
func (c *Client) SetSyncState(ctx context.Context, state string) error {
	return c.rdb.Set(ctx, "sync:state", state, 0).Err()
}

// GetSyncState returns the cached sync engine connectivity state
func (c *Client) GetSyncState(ctx context.Context) (string, error) {
	state, err := c.rdb.Get(ctx, "sync:state").Result()
	if err == redis.Nil {
		return "", nil
	}
	return state, err
}
