package analytics

import (
	"fmt"
	"math"
	"sort"

	"growthmap/server/internal/geometry"
	"growthmap/server/internal/models"
)

// MaxNeighborsPerCluster caps the peers attached to one cluster.
const MaxNeighborsPerCluster = 5

// MapOptions controls the shape of the unified map. Zero values fall back to
// the engine defaults; anything else out of range is rejected.
type MapOptions struct {
	TopK                int
	NeighborsPerCluster int
	NeighborRadiusKm    float64
}

func (o MapOptions) Validate() error {
	switch {
	case o.TopK < 0:
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidFilter)
	case o.NeighborsPerCluster < 0 || o.NeighborsPerCluster > MaxNeighborsPerCluster:
		return fmt.Errorf("%w: neighbors must be between 1 and %d", ErrInvalidFilter, MaxNeighborsPerCluster)
	case o.NeighborRadiusKm < 0 || math.IsNaN(o.NeighborRadiusKm) || math.IsInf(o.NeighborRadiusKm, 0):
		return fmt.Errorf("%w: radius_km must be a positive number", ErrInvalidFilter)
	}
	return nil
}

func (o MapOptions) withDefaults(d MapOptions) MapOptions {
	if o.TopK == 0 {
		o.TopK = d.TopK
	}
	if o.NeighborsPerCluster == 0 {
		o.NeighborsPerCluster = d.NeighborsPerCluster
	}
	if o.NeighborRadiusKm == 0 {
		o.NeighborRadiusKm = d.NeighborRadiusKm
	}
	return o
}

type candidate struct {
	stat     models.AggregateStat
	distance float64
}

// nearest orders the pool around origin by distance, then CAGR (missing
// last), then name, and returns at most limit entries. A radius of zero means
// unbounded.
func nearest(origin models.Coordinate, pool []models.AggregateStat, skip func(models.AggregateKey) bool, radiusKm float64, limit int) []candidate {
	from := geometry.Point(origin.Lat, origin.Lon)

	var found []candidate
	for _, s := range pool {
		if s.Coordinate == nil || skip(s.Key) {
			continue
		}
		d := geometry.DistanceKm(from, geometry.Point(s.Coordinate.Lat, s.Coordinate.Lon))
		if radiusKm > 0 && d > radiusKm {
			continue
		}
		found = append(found, candidate{stat: s, distance: d})
	}

	sort.Slice(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if (a.stat.AvgCAGR == nil) != (b.stat.AvgCAGR == nil) {
			return a.stat.AvgCAGR != nil
		}
		if a.stat.AvgCAGR != nil && *a.stat.AvgCAGR != *b.stat.AvgCAGR {
			return *a.stat.AvgCAGR > *b.stat.AvgCAGR
		}
		return a.stat.Name < b.stat.Name
	})

	if limit < len(found) {
		found = found[:limit]
	}
	return found
}

func toNeighbor(c candidate) models.Neighbor {
	return models.Neighbor{
		Name:       c.stat.Name,
		Lat:        c.stat.Coordinate.Lat,
		Lon:        c.stat.Coordinate.Lon,
		CAGR:       c.stat.AvgCAGR,
		DistanceKm: c.distance,
	}
}

// buildClusters picks the top growth entities as seeds and hands each one the
// closest peers nobody has claimed yet. Seeds are processed in rank order, so
// a peer between two seeds goes to the better ranked one.
func buildClusters(stats map[models.AggregateKey]models.AggregateStat, opts MapOptions) []models.Cluster {
	var seeds []models.AggregateStat
	for _, s := range rankByGrowth(stats) {
		if len(seeds) == opts.TopK {
			break
		}
		if s.Coordinate != nil {
			seeds = append(seeds, s)
		}
	}

	claimed := make(map[models.AggregateKey]bool, len(stats))
	for _, s := range seeds {
		claimed[s.Key] = true
	}
	pool := statsSlice(stats)
	skip := func(k models.AggregateKey) bool { return claimed[k] }

	clusters := make([]models.Cluster, 0, len(seeds))
	for i, seed := range seeds {
		found := nearest(*seed.Coordinate, pool, skip, opts.NeighborRadiusKm, opts.NeighborsPerCluster)
		neighbors := make([]models.Neighbor, 0, len(found))
		for _, c := range found {
			claimed[c.stat.Key] = true
			neighbors = append(neighbors, toNeighbor(c))
		}

		clusters = append(clusters, models.Cluster{
			ID:            seed.Key.ID(),
			Rank:          i + 1,
			Name:          seed.Name,
			Lat:           seed.Coordinate.Lat,
			Lon:           seed.Coordinate.Lon,
			CAGR:          *seed.AvgCAGR,
			PropertyCount: seed.PropertyCount,
			Neighbors:     neighbors,
		})
	}
	return clusters
}
