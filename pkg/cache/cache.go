package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the interface for cache operations
type Cache interface {
	// Get decodes the value stored at key into dest
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value in cache with TTL; a zero TTL uses the default
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error

	Close() error
}

// Codec defines the interface for encoding/decoding cache values
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, dest interface{}) error
}

// JSONCodec implements Codec using JSON encoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func (c *JSONCodec) Decode(data []byte, dest interface{}) error {
	return json.Unmarshal(data, dest)
}

// Options represents cache configuration options
type Options struct {
	DefaultTTL time.Duration

	// MaxRetries is the maximum number of retries for writes
	MaxRetries int
	RetryDelay time.Duration

	// Namespace is a prefix for all cache keys
	Namespace string

	Codec Codec

	// CompressionThreshold is the minimum size in bytes to enable compression
	CompressionThreshold int
}

// DefaultOptions returns default cache options
func DefaultOptions() *Options {
	return &Options{
		DefaultTTL:           5 * time.Minute,
		MaxRetries:           1,
		RetryDelay:           50 * time.Millisecond,
		Codec:                &JSONCodec{},
		CompressionThreshold: 1024, // 1KB
	}
}

// Stats counts cache lookups.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Deletes int64
}

// KeyBuilder helps build cache keys with consistent formatting
type KeyBuilder struct {
	namespace string
	separator string
}

func NewKeyBuilder(namespace string) *KeyBuilder {
	return &KeyBuilder{
		namespace: namespace,
		separator: ":",
	}
}

// Build builds a cache key from parts
func (b *KeyBuilder) Build(parts ...string) string {
	if b.namespace != "" {
		parts = append([]string{b.namespace}, parts...)
	}
	return strings.Join(parts, b.separator)
}
