package analytics

import (
	"context"

	"growthmap/server/internal/models"
)

// SaleReader is the read side of the sale record store.
type SaleReader interface {
	// ListSales returns every sale matching the filter, in any order.
	ListSales(ctx context.Context, filter models.SaleFilter) ([]models.SaleEvent, error)
	// PropertySales returns the sales of one property, in any order.
	PropertySales(ctx context.Context, propertyID string) ([]models.SaleEvent, error)
}

// AggregateCache stores aggregation results keyed by models.Query.CacheKey.
// Get reports the cache version it looked in; Set must be given that version
// so a result read before an invalidation is never served after it.
type AggregateCache interface {
	Get(ctx context.Context, key string) (stats []models.AggregateStat, version int64, ok bool, err error)
	Set(ctx context.Context, key string, version int64, stats []models.AggregateStat) error
}

// Recorder receives query metrics.
type Recorder interface {
	ObserveQuery(operation string, seconds float64, err error)
	CacheHit()
	CacheMiss()
}
