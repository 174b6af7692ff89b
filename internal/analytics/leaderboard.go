package analytics

import (
	"sort"

	"growthmap/server/internal/models"
)

// rankByGrowth orders entities with a growth average, best first.
// Entities without an average are left out rather than ranked as zero.
func rankByGrowth(stats map[models.AggregateKey]models.AggregateStat) []models.AggregateStat {
	ranked := make([]models.AggregateStat, 0, len(stats))
	for _, s := range stats {
		if s.AvgCAGR != nil {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if *a.AvgCAGR != *b.AvgCAGR {
			return *a.AvgCAGR > *b.AvgCAGR
		}
		if a.PropertyCount != b.PropertyCount {
			return a.PropertyCount > b.PropertyCount
		}
		return a.Name < b.Name
	})
	return ranked
}

func rankByActivity(stats map[models.AggregateKey]models.AggregateStat) []models.AggregateStat {
	ranked := make([]models.AggregateStat, 0, len(stats))
	for _, s := range stats {
		if s.SalesCount > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.SalesCount != b.SalesCount {
			return a.SalesCount > b.SalesCount
		}
		if a.PropertyCount != b.PropertyCount {
			return a.PropertyCount > b.PropertyCount
		}
		return a.Name < b.Name
	})
	return ranked
}

// GrowthBoard returns at most n entities ranked by average CAGR.
func GrowthBoard(stats map[models.AggregateKey]models.AggregateStat, n int) []models.LeaderboardEntry {
	return entries(rankByGrowth(stats), n)
}

// ActivityBoard returns at most n entities ranked by sales volume.
func ActivityBoard(stats map[models.AggregateKey]models.AggregateStat, n int) []models.LeaderboardEntry {
	return entries(rankByActivity(stats), n)
}

func entries(ranked []models.AggregateStat, n int) []models.LeaderboardEntry {
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	out := make([]models.LeaderboardEntry, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, models.LeaderboardEntry{
			Name:          s.Name,
			Suburb:        s.Key.Suburb,
			StreetName:    s.Key.Street,
			AvgCAGR:       s.AvgCAGR,
			PropertyCount: s.PropertyCount,
			SalesCount:    s.SalesCount,
		})
	}
	return out
}
