package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
	"bananastore/pkg/kv"
)

const (
	productsKey  = "products"
	DefaultTTL   = 60 * time.Second
	fetchTimeout = 15 * time.Second
)

// Source lists products from the shop API.
type Source interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

// Catalog caches the product list shared by every session.
type Catalog struct {
	source Source
	scope  kv.Scope
	cache  kv.Value[[]domain.Product]
	group  singleflight.Group
}

func New(source Source, scope kv.Scope, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Catalog{
		source: source,
		scope:  scope,
		cache:  kv.NewValue[[]domain.Product](productsKey, ttl),
	}
}

// Products returns the cached list, refreshing it from the API when stale.
// A cache read failure falls through to the API. Concurrent misses share one
// fetch, which outlives any single caller's cancellation.
func (c *Catalog) Products(ctx context.Context) ([]domain.Product, error) {
	cached, ok, err := c.cache.Get(ctx, c.scope)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("catalog cache read failed", "err", err)
	}
	if ok {
		return cached, nil
	}
	ch := c.group.DoChan(productsKey, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		products, err := c.source.Products(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch products: %w", err)
		}
		if products == nil {
			products = []domain.Product{}
		}
		if err := c.cache.Set(ctx, c.scope, products); err != nil {
			util.LoggerFromContext(ctx).Warn("catalog cache write failed", "err", err)
		}
		return products, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Product), nil
	}
}

// Find returns one product by id.
func (c *Catalog) Find(ctx context.Context, id string) (domain.Product, bool, error) {
	id = strings.TrimSpace(id)
	products, err := c.Products(ctx)
	if err != nil {
		return domain.Product{}, false, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, true, nil
		}
	}
	return domain.Product{}, false, nil
}

// ApplyStock merges products reported by a purchase into the cache.
func (c *Catalog) ApplyStock(ctx context.Context, updated []domain.Product) error {
	if len(updated) == 0 {
		return nil
	}
	cached, ok, err := c.cache.Get(ctx, c.scope)
	if err != nil {
		return fmt.Errorf("read catalog cache: %w", err)
	}
	merged := updated
	if ok {
		merged = Merge(cached, updated)
	}
	if err := c.cache.Set(ctx, c.scope, merged); err != nil {
		return fmt.Errorf("write catalog cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached list.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.cache.Clear(ctx, c.scope)
}

// Merge replaces products in base with same-id entries from updated and
// appends the rest, keeping base order.
func Merge(base, updated []domain.Product) []domain.Product {
	byID := make(map[string]domain.Product, len(updated))
	for _, p := range updated {
		byID[p.ID] = p
	}
	out := make([]domain.Product, 0, len(base)+len(updated))
	for _, p := range base {
		if u, ok := byID[p.ID]; ok {
			out = append(out, u)
			delete(byID, p.ID)
			continue
		}
		out = append(out, p)
	}
	for _, p := range updated {
		if _, ok := byID[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// InStock filters products with stock left.
func InStock(products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Stock > 0 {
			out = append(out, p)
		}
	}
	return out
}
