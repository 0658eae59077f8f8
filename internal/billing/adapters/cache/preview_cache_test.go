package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/cache"
	"github.com/linkflow-go/cashier/pkg/logger"
)

func newPreviewCache(t *testing.T) (*PreviewCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := cache.DefaultOptions()
	opts.Namespace = "cashier"
	return NewPreviewCache(cache.NewRedisCache(client, opts), 10*time.Minute, logger.NewNop()), mr
}

func TestPreviewCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pc, mr := newPreviewCache(t)

	_, ok := pc.GetUpcoming(ctx, "cus_1")
	assert.False(t, ok)

	inv := &billing.Invoice{ID: "upcoming_in", CustomerID: "cus_1", Total: 2500, Currency: "usd"}
	require.NoError(t, pc.SetUpcoming(ctx, "cus_1", inv))
	assert.True(t, mr.Exists("cashier:upcoming:cus_1"))

	got, ok := pc.GetUpcoming(ctx, "cus_1")
	require.True(t, ok)
	assert.Equal(t, int64(2500), got.Total)
	assert.Equal(t, "cus_1", got.CustomerID)

	require.NoError(t, pc.Invalidate(ctx, "cus_1"))
	_, ok = pc.GetUpcoming(ctx, "cus_1")
	assert.False(t, ok)
}

func TestPreviewCache_RemembersNothingScheduled(t *testing.T) {
	ctx := context.Background()
	pc, _ := newPreviewCache(t)

	require.NoError(t, pc.SetUpcoming(ctx, "cus_2", nil))

	got, ok := pc.GetUpcoming(ctx, "cus_2")
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestPreviewCache_Expires(t *testing.T) {
	ctx := context.Background()
	pc, mr := newPreviewCache(t)

	require.NoError(t, pc.SetUpcoming(ctx, "cus_3", &billing.Invoice{ID: "x"}))
	mr.FastForward(11 * time.Minute)

	_, ok := pc.GetUpcoming(ctx, "cus_3")
	assert.False(t, ok)
}

func TestPreviewCache_ReadFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	pc, mr := newPreviewCache(t)

	require.NoError(t, pc.SetUpcoming(ctx, "cus_4", &billing.Invoice{ID: "x"}))
	mr.Close()

	_, ok := pc.GetUpcoming(ctx, "cus_4")
	assert.False(t, ok)
}
