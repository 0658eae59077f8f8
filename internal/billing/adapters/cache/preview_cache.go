package cache

import (
	"context"
	"errors"
	"time"

	"github.com/linkflow-go/cashier/internal/billing/ports"
	billing "github.com/linkflow-go/cashier/internal/domain/billing"
	"github.com/linkflow-go/cashier/pkg/cache"
	"github.com/linkflow-go/cashier/pkg/logger"
)

const upcomingKeyPrefix = "upcoming"

var _ ports.PreviewCache = (*PreviewCache)(nil)

// entry wraps the cached preview so "nothing scheduled" is stored as well.
type entry struct {
	Invoice *billing.Invoice `json:"invoice"`
}

// PreviewCache stores upcoming-invoice previews in a shared cache.
type PreviewCache struct {
	store  cache.Cache
	keys   *cache.KeyBuilder
	ttl    time.Duration
	logger logger.Logger
}

func NewPreviewCache(store cache.Cache, ttl time.Duration, log logger.Logger) *PreviewCache {
	return &PreviewCache{
		store:  store,
		keys:   cache.NewKeyBuilder(upcomingKeyPrefix),
		ttl:    ttl,
		logger: log,
	}
}

// GetUpcoming reports a miss on any cache failure; previews are always recomputable.
func (p *PreviewCache) GetUpcoming(ctx context.Context, customerID string) (*billing.Invoice, bool) {
	var e entry
	if err := p.store.Get(ctx, p.keys.Build(customerID), &e); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("Preview cache read failed", "customer_id", customerID, "error", err)
		}
		return nil, false
	}
	return e.Invoice, true
}

func (p *PreviewCache) SetUpcoming(ctx context.Context, customerID string, inv *billing.Invoice) error {
	return p.store.Set(ctx, p.keys.Build(customerID), entry{Invoice: inv}, p.ttl)
}

func (p *PreviewCache) Invalidate(ctx context.Context, customerID string) error {
	return p.store.Delete(ctx, p.keys.Build(customerID))
}
