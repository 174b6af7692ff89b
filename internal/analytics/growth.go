package analytics

import (
	"math"
	"sort"

	"growthmap/server/internal/models"
)

const daysPerYear = 365.25

// minYearsHeld rejects same-day and sub-day transitions.
const minYearsHeld = 1 / daysPerYear

// ComputeGrowth derives the growth figure between two consecutive sales of a
// property. It reports false when the transition cannot produce a meaningful
// CAGR; callers must treat that as missing data, never as zero growth.
func ComputeGrowth(earlier, later *models.SaleEvent) (models.GrowthFigure, bool) {
	if earlier.PurchasePrice <= 0 || later.PurchasePrice <= 0 {
		return models.GrowthFigure{}, false
	}

	days := later.ContractDate.Sub(earlier.ContractDate).Hours() / 24
	years := days / daysPerYear
	if years <= minYearsHeld {
		return models.GrowthFigure{}, false
	}

	ratio := later.PurchasePrice / earlier.PurchasePrice
	cagr := math.Pow(ratio, 1/years) - 1
	if math.IsNaN(cagr) || math.IsInf(cagr, 0) {
		return models.GrowthFigure{}, false
	}

	return models.GrowthFigure{
		PropertyID:  later.PropertyID,
		StartDate:   earlier.ContractDate,
		EndDate:     later.ContractDate,
		StartPrice:  earlier.PurchasePrice,
		EndPrice:    later.PurchasePrice,
		YearsHeld:   years,
		CAGR:        cagr,
		TotalGrowth: ratio - 1,
	}, true
}

// BuildTimelines groups sales by property and orders each group by contract
// date. The returned ids are sorted so iteration order is stable.
func BuildTimelines(sales []models.SaleEvent) ([]string, map[string][]models.SaleEvent) {
	timelines := make(map[string][]models.SaleEvent)
	for _, s := range sales {
		timelines[s.PropertyID] = append(timelines[s.PropertyID], s)
	}

	ids := make([]string, 0, len(timelines))
	for id, tl := range timelines {
		sortTimeline(tl)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, timelines
}

func sortTimeline(tl []models.SaleEvent) {
	sort.SliceStable(tl, func(i, j int) bool {
		a, b := tl[i], tl[j]
		if !a.ContractDate.Equal(b.ContractDate) {
			return a.ContractDate.Before(b.ContractDate)
		}
		if a.DealingNumber != b.DealingNumber {
			return a.DealingNumber < b.DealingNumber
		}
		return a.ID < b.ID
	})
}

// History attaches growth figures to a property's ordered sales.
func History(sales []models.SaleEvent) []models.PropertySale {
	tl := make([]models.SaleEvent, len(sales))
	copy(tl, sales)
	sortTimeline(tl)

	out := make([]models.PropertySale, 0, len(tl))
	for i := range tl {
		ps := models.PropertySale{SaleEvent: tl[i]}
		if i > 0 {
			if fig, ok := ComputeGrowth(&tl[i-1], &tl[i]); ok {
				ps.Growth = &fig
			}
		}
		out = append(out, ps)
	}
	return out
}
