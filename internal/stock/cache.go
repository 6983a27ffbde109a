package stock

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultReadTTL bounds how stale a cached inventory read may be. Five
// seconds is short enough that a level quoted to a caller is still close to
// true when the order finalizes.
const DefaultReadTTL = 5 * time.Second

// defaultCacheSize caps the number of product levels held in memory.
const defaultCacheSize = 4096

// Compile-time interface check.
var _ Service = (*CachedService)(nil)

// CachedService wraps a Service with a TTL read cache. Level and InStock may
// serve cached snapshots; Reserve and Release always pass through and evict
// the product's cached entry so the next read reflects the claim.
type CachedService struct {
	inner Service
	cache *expirable.LRU[string, Level]
}

// NewCachedService wraps inner with a read cache. A non-positive ttl falls
// back to DefaultReadTTL.
func NewCachedService(inner Service, ttl time.Duration) *CachedService {
	if ttl <= 0 {
		ttl = DefaultReadTTL
	}
	return &CachedService{
		inner: inner,
		cache: expirable.NewLRU[string, Level](defaultCacheSize, nil, ttl),
	}
}

// Level implements [Service], serving from cache when a fresh entry exists.
func (s *CachedService) Level(ctx context.Context, productKey string) (Level, error) {
	if lvl, ok := s.cache.Get(productKey); ok {
		return lvl, nil
	}
	lvl, err := s.inner.Level(ctx, productKey)
	if err != nil {
		return Level{}, err
	}
	s.cache.Add(productKey, lvl)
	return lvl, nil
}

// InStock implements [Service] on top of the cached Level.
func (s *CachedService) InStock(ctx context.Context, productKey string, qty int) (bool, error) {
	lvl, err := s.Level(ctx, productKey)
	if err != nil {
		return false, err
	}
	return lvl.Sellable() >= qty, nil
}

// Reserve implements [Service]. Never cached.
func (s *CachedService) Reserve(ctx context.Context, productKey string, qty int) error {
	err := s.inner.Reserve(ctx, productKey, qty)
	s.cache.Remove(productKey)
	return err
}

// Release implements [Service]. Never cached.
func (s *CachedService) Release(ctx context.Context, productKey string, qty int) error {
	err := s.inner.Release(ctx, productKey, qty)
	s.cache.Remove(productKey)
	return err
}
