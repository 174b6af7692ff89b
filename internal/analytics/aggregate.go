package analytics

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"

	"growthmap/server/internal/geometry"
	"growthmap/server/internal/models"
)

type accumulator struct {
	key         models.AggregateKey
	figures     []float64
	sales       int
	growthProps map[string]struct{}
	soldProps   map[string]struct{}
}

func newAccumulator(key models.AggregateKey) *accumulator {
	return &accumulator{
		key:         key,
		growthProps: make(map[string]struct{}),
		soldProps:   make(map[string]struct{}),
	}
}

// aggregateSales computes per-entity statistics for q from the loaded sales.
// Location scope and date are applied here as well as in the store read so the
// result never depends on how much the store pushed down.
func aggregateSales(sales []models.SaleEvent, q models.Query) map[models.AggregateKey]models.AggregateStat {
	scoped := make([]models.SaleEvent, 0, len(sales))
	for i := range sales {
		if q.InScope(&sales[i]) && sales[i].Year() <= q.Year {
			scoped = append(scoped, sales[i])
		}
	}

	return accumulate(scoped, q.Level, q.Year, func(s *models.SaleEvent) bool {
		return s.Year() == q.Year && q.Filters.Allows(s)
	})
}

// accumulate groups sales into entities of level. keep selects the sales that
// are counted and the growth transitions that end in them; every geocoded sale
// contributes to the entity position regardless.
func accumulate(sales []models.SaleEvent, level models.Level, year int, keep func(*models.SaleEvent) bool) map[models.AggregateKey]models.AggregateStat {
	ids, timelines := BuildTimelines(sales)
	accs := make(map[models.AggregateKey]*accumulator)
	points := make(map[models.AggregateKey][]orb.Point)

	for _, id := range ids {
		tl := timelines[id]
		for i := range tl {
			sale := &tl[i]
			key := models.KeyFor(level, sale)
			if sale.HasCoordinates() {
				points[key] = append(points[key], geometry.Point(*sale.Latitude, *sale.Longitude))
			}

			if !keep(sale) {
				continue
			}

			acc, ok := accs[key]
			if !ok {
				acc = newAccumulator(key)
				accs[key] = acc
			}
			acc.sales++
			acc.soldProps[sale.PropertyID] = struct{}{}

			if i == 0 {
				continue
			}
			if fig, ok := ComputeGrowth(&tl[i-1], sale); ok {
				acc.figures = append(acc.figures, fig.CAGR)
				acc.growthProps[sale.PropertyID] = struct{}{}
			}
		}
	}

	stats := make(map[models.AggregateKey]models.AggregateStat, len(accs))
	for key, acc := range accs {
		stat := models.AggregateStat{
			Key:            key,
			Name:           key.Name(),
			Level:          level,
			Year:           year,
			AvgCAGR:        mean(acc.figures),
			GrowthCount:    len(acc.figures),
			SalesCount:     acc.sales,
			PropertyCount:  len(acc.growthProps),
			SoldProperties: len(acc.soldProps),
		}
		if c, ok := geometry.Centroid(points[key]); ok {
			stat.Coordinate = &models.Coordinate{Lat: c.Lat(), Lon: c.Lon()}
		}
		stats[key] = stat
	}
	return stats
}

// mean returns the unweighted arithmetic mean, or nil for an empty set.
// The sum is exact, so the result does not depend on input order.
func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(values)))).InexactFloat64()
	return &avg
}

// statsSlice returns the stats ordered by key name.
func statsSlice(stats map[models.AggregateKey]models.AggregateStat) []models.AggregateStat {
	out := make([]models.AggregateStat, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key.Suburb < out[j].Key.Suburb
	})
	return out
}

func statsMap(list []models.AggregateStat) map[models.AggregateKey]models.AggregateStat {
	stats := make(map[models.AggregateKey]models.AggregateStat, len(list))
	for _, s := range list {
		stats[s.Key] = s
	}
	return stats
}
