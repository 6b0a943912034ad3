package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streambro/backend/pkg/models"
)

// Cache keeps stream state snapshots in Redis so the display layer can
// read current status without hitting the database
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetStreamSnapshot caches the current state of a stream
func (c *Cache) SetStreamSnapshot(ctx context.Context, snapshot *models.StreamSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("stream:status:%s", snapshot.StreamID)
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetStreamSnapshot retrieves a stream snapshot from cache
func (c *Cache) GetStreamSnapshot(ctx context.Context, streamID string) (*models.StreamSnapshot, error) {
	key := fmt.Sprintf("stream:status:%s", streamID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get snapshot from cache: %w", err)
	}

	var snapshot models.StreamSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// DeleteStreamSnapshot removes a stream snapshot from cache
func (c *Cache) DeleteStreamSnapshot(ctx context.Context, streamID string) error {
	key := fmt.Sprintf("stream:status:%s", streamID)
	return c.client.Del(ctx, key).Err()
}
