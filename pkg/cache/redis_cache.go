package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache interface using Redis
type RedisCache struct {
	client  *redis.Client
	options *Options
	codec   Codec
	stats   Stats
	mu      sync.Mutex
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, opts *Options) *RedisCache {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Codec == nil {
		opts.Codec = &JSONCodec{}
	}

	return &RedisCache{
		client:  client,
		options: opts,
		codec:   opts.Codec,
	}
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.count(func(s *Stats) { s.Misses++ })
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get error: %w", err)
	}

	data, err = c.decompress(data)
	if err != nil {
		return fmt.Errorf("decompress error: %w", err)
	}

	if err := c.codec.Decode(data, dest); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}

	c.count(func(s *Stats) { s.Hits++ })
	return nil
}

// Set stores a value in cache with TTL
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode error: %w", err)
	}

	data, err = c.compress(data)
	if err != nil {
		return fmt.Errorf("compress error: %w", err)
	}

	if ttl == 0 {
		ttl = c.options.DefaultTTL
	}

	key = c.buildKey(key)
	err = c.retryOperation(ctx, func() error {
		return c.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	c.count(func(s *Stats) { s.Sets++ })
	return nil
}

// Delete removes a key from cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}

	c.count(func(s *Stats) { s.Deletes++ })
	return nil
}

// Close closes the cache connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if cache is available
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Stats returns a snapshot of the lookup counters
func (c *RedisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *RedisCache) count(fn func(*Stats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.stats)
}

func (c *RedisCache) buildKey(key string) string {
	if c.options.Namespace != "" {
		return fmt.Sprintf("%s:%s", c.options.Namespace, key)
	}
	return key
}

// Payloads carry a one-byte header: 1 for gzip, 0 for raw.
func (c *RedisCache) compress(data []byte) ([]byte, error) {
	if c.options.CompressionThreshold <= 0 || len(data) < c.options.CompressionThreshold {
		return append([]byte{0}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(1)

	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (c *RedisCache) decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if data[0] != 1 {
		return data[1:], nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(data[1:]))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (c *RedisCache) retryOperation(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= c.options.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i < c.options.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.options.RetryDelay):
			}
		}
	}
	return err
}
