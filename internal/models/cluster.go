package models

// Neighbor is a nearby entity shown next to a cluster for context.
type Neighbor struct {
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	CAGR       *float64 `json:"cagr"`
	DistanceKm float64  `json:"distance_km"`
}

// Cluster is one ranked entity of the unified map.
type Cluster struct {
	ID            string     `json:"id"`
	Rank          int        `json:"rank"`
	Name          string     `json:"name"`
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	CAGR          float64    `json:"cagr"`
	PropertyCount int        `json:"property_count"`
	Neighbors     []Neighbor `json:"neighbors"`
}

// UnifiedMap is the response of the unified map query.
type UnifiedMap struct {
	Level    Level     `json:"level"`
	Year     int       `json:"year"`
	Clusters []Cluster `json:"clusters"`
}

// SuburbCentroid is the mean position of the geocoded sales of a suburb.
type SuburbCentroid struct {
	Suburb     string  `json:"suburb"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SalesCount int     `json:"sales_count"`
}
