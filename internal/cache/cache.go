package cache

import (
	"context"
	"time"

	"kasirinaja/pos/internal/domain"
)

type ProductCache interface {
	GetProducts(ctx context.Context, outletID string) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, outletID string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, outletID string) error
}

type NoopProductCache struct{}

func (NoopProductCache) GetProducts(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) SetProducts(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
