package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"growthmap/server/internal/models"
)

type memoryStore struct {
	mu    sync.Mutex
	sales []models.SaleEvent
	err   error
	calls int
}

func (m *memoryStore) ListSales(ctx context.Context, f models.SaleFilter) ([]models.SaleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	var out []models.SaleEvent
	for _, s := range m.sales {
		if !f.From.IsZero() && s.ContractDate.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && s.ContractDate.After(f.To) {
			continue
		}
		if f.Suburb != "" && s.Suburb != f.Suburb {
			continue
		}
		if f.Street != "" && s.StreetName != f.Street {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryStore) PropertySales(ctx context.Context, propertyID string) ([]models.SaleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	var out []models.SaleEvent
	for _, s := range m.sales {
		if s.PropertyID == propertyID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memoryCache struct {
	mu      sync.Mutex
	version int64
	entries map[string][]models.AggregateStat
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]models.AggregateStat)}
}

func entry(version int64, key string) string {
	return fmt.Sprintf("%d:%s", version, key)
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]models.AggregateStat, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.entries[entry(c.version, key)]
	return stats, c.version, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, version int64, stats []models.AggregateStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry(version, key)] = stats
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	return nil
}

type countingRecorder struct {
	mu      sync.Mutex
	queries map[string]int
	hits    int
	misses  int
}

func (r *countingRecorder) ObserveQuery(operation string, seconds float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queries == nil {
		r.queries = make(map[string]int)
	}
	r.queries[operation]++
}

func (r *countingRecorder) CacheHit() {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *countingRecorder) CacheMiss() {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

var nextID int64

type saleOption func(*models.SaleEvent)

func at(lat, lon float64) saleOption {
	return func(s *models.SaleEvent) {
		s.Latitude = &lat
		s.Longitude = &lon
	}
}

func ofType(t string) saleOption {
	return func(s *models.SaleEvent) { s.PropertyType = t }
}

func dealing(n string) saleOption {
	return func(s *models.SaleEvent) { s.DealingNumber = n }
}

func sale(propertyID, date string, price float64, suburb, street string, opts ...saleOption) models.SaleEvent {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		panic(err)
	}
	nextID++
	s := models.SaleEvent{
		ID:            nextID,
		PropertyID:    propertyID,
		DealingNumber: propertyID + "-" + date,
		ContractDate:  d,
		PurchasePrice: price,
		Suburb:        suburb,
		StreetName:    street,
		HouseNumber:   "1",
		PropertyType:  "Residence",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func price(v float64) *float64 {
	return &v
}

func newTestEngine(sales ...models.SaleEvent) (*Engine, *memoryStore) {
	store := &memoryStore{sales: sales}
	return NewEngine(store, Options{}, nil), store
}
