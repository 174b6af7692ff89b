package analytics

import (
	"sort"

	"growthmap/server/internal/models"
)

// buildTrend buckets growth figures by the year of their later sale.
// Years without figures are omitted.
func buildTrend(sales []models.SaleEvent, q models.Query) []models.TrendPoint {
	scoped := make([]models.SaleEvent, 0, len(sales))
	for i := range sales {
		if q.InScope(&sales[i]) {
			scoped = append(scoped, sales[i])
		}
	}

	figures := make(map[int][]float64)
	props := make(map[int]map[string]struct{})

	ids, timelines := BuildTimelines(scoped)
	for _, id := range ids {
		tl := timelines[id]
		for i := 1; i < len(tl); i++ {
			sale := &tl[i]
			if !q.Filters.Allows(sale) {
				continue
			}
			fig, ok := ComputeGrowth(&tl[i-1], sale)
			if !ok {
				continue
			}
			year := sale.Year()
			figures[year] = append(figures[year], fig.CAGR)
			if props[year] == nil {
				props[year] = make(map[string]struct{})
			}
			props[year][sale.PropertyID] = struct{}{}
		}
	}

	years := make([]int, 0, len(figures))
	for y := range figures {
		years = append(years, y)
	}
	sort.Ints(years)

	points := make([]models.TrendPoint, 0, len(years))
	for _, y := range years {
		points = append(points, models.TrendPoint{
			Year:          y,
			AvgCAGR:       *mean(figures[y]),
			PropertyCount: len(props[y]),
		})
	}
	return points
}
