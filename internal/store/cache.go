package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leafsii/leafsii-lending/pkg/kv"
)

// Keys and channels shared by the daemon, the API and the WebSocket hub.
const (
	KeySnapshot   = "ledger:snapshot"
	KeyMarkets    = "ledger:markets"
	KeyPrices     = "ledger:quotes"
	ChannelEvents = "ledger:events"
	ChannelPrices = "ledger:prices"
)

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores JSON documents and messages on a kv.Store.
type Cache struct {
	kv     kv.Store
	logger *zap.SugaredLogger
}

func NewCache(store kv.Store, logger *zap.SugaredLogger) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Cache{kv: store, logger: logger}
}

// KV exposes the underlying store.
func (c *Cache) KV() kv.Store {
	return c.kv
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// Set stores value as JSON. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		c.logger.Errorw("Cache set error", "key", key, "error", err)
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) HGet(ctx context.Context, key, field string, dest interface{}) error {
	data, err := c.kv.HGet(ctx, key, field)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrCacheMiss
		}
		return fmt.Errorf("cache hget error: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) HSet(ctx context.Context, key, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kv.HSet(ctx, key, field, data); err != nil {
		c.logger.Errorw("Cache hset error", "key", key, "field", field, "error", err)
		return fmt.Errorf("cache hset error: %w", err)
	}
	return nil
}

// HGetAll returns the raw JSON of every field in key.
func (c *Cache) HGetAll(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	fields, err := c.kv.HGetAll(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("cache hgetall error: %w", err)
	}
	out := make(map[string]json.RawMessage, len(fields))
	for f, v := range fields {
		out[f] = v
	}
	return out, nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kv.Del(ctx, keys...); err != nil {
		c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

// Pub/Sub methods for real-time updates
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}
	if _, err := c.kv.Publish(ctx, channel, data); err != nil {
		c.logger.Errorw("Publish error", "channel", channel, "error", err)
		return fmt.Errorf("pubsub publish error: %w", err)
	}
	return nil
}

func (c *Cache) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	return c.kv.Subscribe(ctx, channels...)
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.kv.Ping(ctx)
}

func (c *Cache) Close() error {
	return c.kv.Close()
}
