package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/store"
)

const DefaultCatalogTTL = 30 * time.Second

// Catalog serves product listings from the cache and falls through to the
// store on a miss or a cache error. Single-product lookups always hit the
// store so cart stock ceilings stay current.
type Catalog struct {
	next   store.Catalog
	cache  ProductCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCatalog(next store.Catalog, c ProductCache, ttl time.Duration, logger *zap.Logger) *Catalog {
	if c == nil {
		c = NoopProductCache{}
	}
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{next: next, cache: c, ttl: ttl, logger: logger.Named("catalog-cache")}
}

func (c *Catalog) ListProducts(ctx context.Context, outletID string) ([]domain.Product, error) {
	cached, ok, err := c.cache.GetProducts(ctx, outletID)
	if err != nil {
		c.logger.Warn("catalog cache read failed", zap.String("outlet_id", outletID), zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	products, err := c.next.ListProducts(ctx, outletID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetProducts(ctx, outletID, products, c.ttl); err != nil {
		c.logger.Warn("catalog cache write failed", zap.String("outlet_id", outletID), zap.Error(err))
	}
	return products, nil
}

func (c *Catalog) GetProduct(ctx context.Context, outletID string, productID string) (*domain.Product, error) {
	return c.next.GetProduct(ctx, outletID, productID)
}

// Invalidate drops the cached listing after stock changed.
func (c *Catalog) Invalidate(ctx context.Context, outletID string) {
	if err := c.cache.Invalidate(ctx, outletID); err != nil {
		c.logger.Warn("catalog cache invalidate failed", zap.String("outlet_id", outletID), zap.Error(err))
	}
}
