// Package cache keeps the active test configuration in Redis so student
// requests do not hit the database for it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/examgrader/internal/model"
)

// ActiveTestKey holds the JSON encoded active TestConfiguration.
const ActiveTestKey = "examgrader:active_test"

// ErrMiss is returned when nothing is cached.
var ErrMiss = errors.New("cache miss")

// NewRedisClient connects to Redis and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// ConfigCache stores the active TestConfiguration.
type ConfigCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *ConfigCache {
	return &ConfigCache{client: client, ttl: ttl}
}

// Active returns the cached configuration or ErrMiss.
func (c *ConfigCache) Active(ctx context.Context) (model.TestConfiguration, error) {
	var cfg model.TestConfiguration
	val, err := c.client.Get(ctx, ActiveTestKey).Result()
	if errors.Is(err, redis.Nil) {
		return cfg, ErrMiss
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal([]byte(val), &cfg); err != nil {
		return cfg, fmt.Errorf("decode cached test: %w", err)
	}
	return cfg, nil
}

// SetActive caches cfg until the TTL expires or Invalidate is called.
func (c *ConfigCache) SetActive(ctx context.Context, cfg model.TestConfiguration) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ActiveTestKey, string(b), c.ttl).Err()
}

// Invalidate drops the cached configuration.
func (c *ConfigCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, ActiveTestKey).Err()
}
