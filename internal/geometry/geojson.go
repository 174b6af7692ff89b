package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"growthmap/server/internal/models"
)

// ClustersFeatureCollection renders a unified map as GeoJSON. Every cluster becomes a
// point feature, every neighbour a point feature linked to its cluster, and clusters
// with at least three located members also get a hull polygon.
func ClustersFeatureCollection(m *models.UnifiedMap) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if m == nil {
		return fc
	}

	for _, c := range m.Clusters {
		seed := Point(c.Lat, c.Lon)

		feature := geojson.NewFeature(seed)
		feature.ID = c.ID
		feature.Properties = geojson.Properties{
			"kind":           "cluster",
			"name":           c.Name,
			"rank":           c.Rank,
			"cagr":           c.CAGR,
			"property_count": c.PropertyCount,
			"level":          string(m.Level),
			"year":           m.Year,
		}
		fc.Append(feature)

		members := []orb.Point{seed}
		for _, n := range c.Neighbors {
			p := Point(n.Lat, n.Lon)
			members = append(members, p)

			nf := geojson.NewFeature(p)
			nf.Properties = geojson.Properties{
				"kind":        "neighbor",
				"name":        n.Name,
				"cluster_id":  c.ID,
				"cagr":        n.CAGR,
				"distance_km": n.DistanceKm,
			}
			fc.Append(nf)
		}

		if hull := ConvexHull(members); hull != nil {
			hf := geojson.NewFeature(orb.Polygon{hull})
			hf.Properties = geojson.Properties{
				"kind":         "hull",
				"cluster_id":   c.ID,
				"member_count": len(members),
			}
			fc.Append(hf)
		}
	}

	return fc
}
