package series

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"trendlab/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*Cache)(nil)

// Cache memoizes a Provider for the lifetime of a batch run. Concurrent
// requests for the same series share one load; entries are never
// invalidated. Errors are not cached.
type Cache struct {
	next  Provider
	group singleflight.Group
	data  sync.Map // key -> []domain.PricePoint
}

// NewCache wraps next.
func NewCache(next Provider) *Cache {
	return &Cache{next: next}
}

// Series implements Provider. Each caller receives its own copy.
func (c *Cache) Series(ctx context.Context, instrument string, r Range) ([]domain.PricePoint, error) {
	key := instrument + "|" + r.String()
	if v, ok := c.data.Load(key); ok {
		return slices.Clone(v.([]domain.PricePoint)), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.data.Load(key); ok {
			return v, nil
		}
		points, err := c.next.Series(ctx, instrument, r)
		if err != nil {
			return nil, err
		}
		c.data.Store(key, points)
		return points, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.PricePoint)), nil
}
