package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type preview struct {
	ID    string `json:"id"`
	Total int64  `json:"total"`
	Note  string `json:"note"`
}

func setupCache(t *testing.T, opts *Options) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, opts), mr
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.Namespace = "cashier"
	c, mr := setupCache(t, opts)

	require.NoError(t, c.Set(ctx, "upcoming:cus_1", preview{ID: "in_1", Total: 1500}, time.Minute))
	assert.True(t, mr.Exists("cashier:upcoming:cus_1"))

	var got preview
	require.NoError(t, c.Get(ctx, "upcoming:cus_1", &got))
	assert.Equal(t, preview{ID: "in_1", Total: 1500}, got)

	require.NoError(t, c.Delete(ctx, "upcoming:cus_1"))
	assert.ErrorIs(t, c.Get(ctx, "upcoming:cus_1", &got), ErrCacheMiss)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisCache_CompressesLargeValues(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.CompressionThreshold = 64
	c, mr := setupCache(t, opts)

	big := preview{ID: "in_big", Note: strings.Repeat("line item ", 100)}
	require.NoError(t, c.Set(ctx, "big", big, 0))

	raw, err := mr.Get("big")
	require.NoError(t, err)
	assert.Equal(t, byte(1), raw[0])
	assert.Less(t, len(raw), len(big.Note))

	var got preview
	require.NoError(t, c.Get(ctx, "big", &got))
	assert.Equal(t, big, got)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t, nil)

	require.NoError(t, c.Set(ctx, "k", preview{ID: "in_1"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	var got preview
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestKeyBuilder(t *testing.T) {
	assert.Equal(t, "cashier:upcoming:cus_1", NewKeyBuilder("cashier").Build("upcoming", "cus_1"))
	assert.Equal(t, "upcoming", NewKeyBuilder("").Build("upcoming"))
}
