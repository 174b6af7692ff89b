package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"growthmap/server/internal/geometry"
	"growthmap/server/internal/models"
)

const (
	// DefaultSearchLimit is the page size of SearchSales when none is given.
	DefaultSearchLimit = 100
	// DefaultTopSuburbs is the length of the sales volume ranking.
	DefaultTopSuburbs = 10
)

// SearchSales returns a page of sales, newest first, each with the growth of
// the transition that ended in it.
func (e *Engine) SearchSales(ctx context.Context, s models.SaleSearch) (result []models.PropertySale, err error) {
	defer e.observe("search_sales", time.Now(), &err)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.Limit == 0 {
		s.Limit = DefaultSearchLimit
	}

	// Growth needs the sale before the period starts, so only the upper bound
	// is pushed down.
	sales, err := e.store.ListSales(ctx, models.SaleFilter{To: s.Period.To})
	if err != nil {
		return nil, upstream(err)
	}
	return searchSales(sales, s), nil
}

func searchSales(sales []models.SaleEvent, s models.SaleSearch) []models.PropertySale {
	ids, timelines := BuildTimelines(sales)

	var matches []models.PropertySale
	for _, id := range ids {
		for _, ps := range History(timelines[id]) {
			if s.Matches(&ps) {
				matches = append(matches, ps)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.ContractDate.Equal(b.ContractDate) {
			return a.ContractDate.After(b.ContractDate)
		}
		if a.PropertyID != b.PropertyID {
			return a.PropertyID < b.PropertyID
		}
		return a.DealingNumber < b.DealingNumber
	})

	if s.Offset >= len(matches) {
		return []models.PropertySale{}
	}
	matches = matches[s.Offset:]
	if s.Limit < len(matches) {
		matches = matches[:s.Limit]
	}
	return matches
}

// periodSales loads the sales of a period that pass the filters.
func (e *Engine) periodSales(ctx context.Context, p models.Period, f models.Filters) ([]models.SaleEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	sales, err := e.store.ListSales(ctx, models.SaleFilter{From: p.From, To: p.To})
	if err != nil {
		return nil, upstream(err)
	}

	out := sales[:0]
	for i := range sales {
		if p.Contains(sales[i].ContractDate) && f.Allows(&sales[i]) {
			out = append(out, sales[i])
		}
	}
	return out, nil
}

type priceGroup struct {
	prices []float64
}

func groupPrices(sales []models.SaleEvent, key func(*models.SaleEvent) string) map[string]*priceGroup {
	groups := make(map[string]*priceGroup)
	for i := range sales {
		k := key(&sales[i])
		g, ok := groups[k]
		if !ok {
			g = &priceGroup{}
			groups[k] = g
		}
		g.prices = append(g.prices, sales[i].PurchasePrice)
	}
	return groups
}

// MonthlyPrices returns the average price and sales count per calendar month,
// oldest first. Months without sales are omitted.
func (e *Engine) MonthlyPrices(ctx context.Context, p models.Period, f models.Filters) (result []models.MonthlyPrice, err error) {
	defer e.observe("monthly_prices", time.Now(), &err)

	sales, err := e.periodSales(ctx, p, f)
	if err != nil {
		return nil, err
	}

	groups := groupPrices(sales, func(s *models.SaleEvent) string {
		return s.ContractDate.Format("2006-01")
	})
	result = make([]models.MonthlyPrice, 0, len(groups))
	for month, g := range groups {
		result = append(result, models.MonthlyPrice{
			Month:    month,
			AvgPrice: *mean(g.prices),
			Count:    len(g.prices),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}

// TopSuburbs ranks suburbs by the number of sales in the period.
func (e *Engine) TopSuburbs(ctx context.Context, p models.Period, f models.Filters, limit int) (result []models.SuburbVolume, err error) {
	defer e.observe("top_suburbs", time.Now(), &err)

	if limit <= 0 {
		limit = DefaultTopSuburbs
	}
	sales, err := e.periodSales(ctx, p, f)
	if err != nil {
		return nil, err
	}

	groups := groupPrices(sales, func(s *models.SaleEvent) string { return s.Suburb })
	result = make([]models.SuburbVolume, 0, len(groups))
	for suburb, g := range groups {
		result = append(result, models.SuburbVolume{
			Suburb:     suburb,
			SalesCount: len(g.prices),
			AvgPrice:   *mean(g.prices),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SalesCount != result[j].SalesCount {
			return result[i].SalesCount > result[j].SalesCount
		}
		return result[i].Suburb < result[j].Suburb
	})
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// GlobalSummary ranks suburbs and streets by the average of all their growth
// figures across every year. n <= 0 uses the configured leaderboard size.
func (e *Engine) GlobalSummary(ctx context.Context, f models.Filters, n int) (result *models.GlobalSummary, err error) {
	defer e.observe("global_summary", time.Now(), &err)

	if err := f.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = e.opts.LeaderboardSize
	}

	sales, err := e.store.ListSales(ctx, models.SaleFilter{})
	if err != nil {
		return nil, upstream(err)
	}

	keep := func(s *models.SaleEvent) bool { return f.Allows(s) }
	return &models.GlobalSummary{
		TopSuburbs: GrowthBoard(accumulate(sales, models.LevelSuburb, 0, keep), n),
		TopStreets: GrowthBoard(accumulate(sales, models.LevelStreet, 0, keep), n),
	}, nil
}

// parcel is the current state of one property.
type parcel struct {
	last     models.SaleEvent
	position *models.SaleEvent
	cagr     *float64
}

func parcels(sales []models.SaleEvent) map[string]parcel {
	ids, timelines := BuildTimelines(sales)
	out := make(map[string]parcel, len(ids))
	for _, id := range ids {
		tl := timelines[id]
		p := parcel{last: tl[len(tl)-1]}
		for i := len(tl) - 1; i >= 0; i-- {
			if tl[i].HasCoordinates() {
				p.position = &tl[i]
				break
			}
		}
		for i := len(tl) - 1; i > 0 && p.cagr == nil; i-- {
			if fig, ok := ComputeGrowth(&tl[i-1], &tl[i]); ok {
				cagr := fig.CAGR
				p.cagr = &cagr
			}
		}
		out[id] = p
	}
	return out
}

// PropertyNeighbors returns the geocoded properties closest to q.PropertyID,
// nearest first. Peers must pass q.Filters on their latest sale. A property
// without a position has no neighbours.
func (e *Engine) PropertyNeighbors(ctx context.Context, q models.Query, limit int) (neighbors []models.PropertyNeighbor, err error) {
	defer e.observe("property_neighbors", time.Now(), &err)

	propertyID := strings.TrimSpace(q.PropertyID)
	if propertyID == "" {
		return nil, fmt.Errorf("%w: property_id is required", ErrInvalidFilter)
	}
	if err := q.Filters.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPropertyNeighborLimit
	}

	sales, err := e.store.ListSales(ctx, models.SaleFilter{})
	if err != nil {
		return nil, upstream(err)
	}

	all := parcels(sales)
	neighbors = make([]models.PropertyNeighbor, 0, limit)
	target, ok := all[propertyID]
	if !ok || target.position == nil {
		return neighbors, nil
	}
	origin := geometry.Point(*target.position.Latitude, *target.position.Longitude)

	for id, p := range all {
		if id == propertyID || p.position == nil || !q.Filters.Allows(&p.last) {
			continue
		}
		lat, lon := *p.position.Latitude, *p.position.Longitude
		neighbors = append(neighbors, models.PropertyNeighbor{
			PropertyID: id,
			Address:    strings.TrimSpace(p.last.HouseNumber + " " + p.last.StreetName),
			Suburb:     p.last.Suburb,
			Lat:        lat,
			Lon:        lon,
			CAGR:       p.cagr,
			LastPrice:  p.last.PurchasePrice,
			DistanceKm: geometry.DistanceKm(origin, geometry.Point(lat, lon)),
		})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].DistanceKm != neighbors[j].DistanceKm {
			return neighbors[i].DistanceKm < neighbors[j].DistanceKm
		}
		return neighbors[i].PropertyID < neighbors[j].PropertyID
	})
	if limit < len(neighbors) {
		neighbors = neighbors[:limit]
	}
	return neighbors, nil
}
