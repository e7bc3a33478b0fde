package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"river-monitor/internal/models"
)

// LatestKey holds the most recent accepted telemetry record
const LatestKey = "river:latest"

// ErrCacheMiss is returned when no fresh reading is cached
var ErrCacheMiss = errors.New("cache miss")

// Options holds the Redis connection settings
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a Redis client
func NewRedisClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// LatestCache keeps the last telemetry record with a TTL so dashboards can
// tell a stale station from a live one
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLatestCache(client *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{client: client, ttl: ttl}
}

// Ping tests the Redis connection
func (c *LatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetLatest stores record under LatestKey
func (c *LatestCache) SetLatest(ctx context.Context, record *models.TelemetryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal latest record: %w", err)
	}
	if err := c.client.Set(ctx, LatestKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache latest record: %w", err)
	}
	return nil
}

// GetLatest returns the cached record or ErrCacheMiss
func (c *LatestCache) GetLatest(ctx context.Context) (*models.TelemetryRecord, error) {
	val, err := c.client.Get(ctx, LatestKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}

	var record models.TelemetryRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest record: %w", err)
	}
	return &record, nil
}

// Close closes the Redis connection
func (c *LatestCache) Close() error {
	return c.client.Close()
}
