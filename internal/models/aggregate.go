package models

import (
	"fmt"
	"strings"
)

// Level is the aggregation level of an entity.
type Level string

const (
	LevelSuburb Level = "suburb"
	LevelStreet Level = "street"
)

// ParseLevel converts a query value into a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelSuburb:
		return LevelSuburb, nil
	case LevelStreet:
		return LevelStreet, nil
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelSuburb || l == LevelStreet
}

// AggregateKey identifies an entity. Street keys are always scoped to a suburb,
// so two streets with the same name in different suburbs never collide.
type AggregateKey struct {
	Level  Level  `json:"level"`
	Suburb string `json:"suburb"`
	Street string `json:"street_name,omitempty"`
}

// SuburbKey builds the key of a suburb entity.
func SuburbKey(suburb string) AggregateKey {
	return AggregateKey{Level: LevelSuburb, Suburb: suburb}
}

// StreetKey builds the key of a street entity.
func StreetKey(suburb, street string) AggregateKey {
	return AggregateKey{Level: LevelStreet, Suburb: suburb, Street: street}
}

// KeyFor returns the key of the entity the sale belongs to at the given level.
func KeyFor(level Level, s *SaleEvent) AggregateKey {
	if level == LevelStreet {
		return StreetKey(s.Suburb, s.StreetName)
	}
	return SuburbKey(s.Suburb)
}

// Name is the display name of the entity.
func (k AggregateKey) Name() string {
	if k.Level == LevelStreet {
		return k.Street + ", " + k.Suburb
	}
	return k.Suburb
}

// ID is a stable identifier usable in URLs and map layers.
func (k AggregateKey) ID() string {
	if k.Level == LevelStreet {
		return k.Street + "_" + k.Suburb
	}
	return k.Suburb
}

// Coordinate is a decimal-degree point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AggregateStat is the per-entity statistic for one level, year and filter set.
// AvgCAGR is nil when no growth figure qualified: absence, not zero growth.
type AggregateStat struct {
	Key            AggregateKey `json:"key"`
	Name           string       `json:"name"`
	Level          Level        `json:"level"`
	Year           int          `json:"year"`
	AvgCAGR        *float64     `json:"avg_cagr"`
	GrowthCount    int          `json:"growth_count"`
	SalesCount     int          `json:"sales_count"`
	PropertyCount  int          `json:"property_count"`
	SoldProperties int          `json:"sold_properties"`
	Coordinate     *Coordinate  `json:"coordinate,omitempty"`
}

// LeaderboardEntry is one row of a ranked list.
type LeaderboardEntry struct {
	Name          string   `json:"name"`
	Suburb        string   `json:"suburb"`
	StreetName    string   `json:"street_name,omitempty"`
	AvgCAGR       *float64 `json:"avg_cagr"`
	PropertyCount int      `json:"property_count"`
	SalesCount    int      `json:"sales_count"`
}

// LevelBoards holds the suburb and street lists of one metric.
type LevelBoards struct {
	Suburbs []LeaderboardEntry `json:"suburbs"`
	Streets []LeaderboardEntry `json:"streets"`
}

// TopPerformers is the growth and activity leaderboard response.
type TopPerformers struct {
	Growth   LevelBoards `json:"growth"`
	Activity LevelBoards `json:"activity"`
}

// EntityGrowth is the single-entity answer of street_cagr and suburb_cagr.
type EntityGrowth struct {
	Name          string   `json:"name"`
	Suburb        string   `json:"suburb"`
	StreetName    string   `json:"street_name,omitempty"`
	Year          int      `json:"year"`
	AvgCAGR       *float64 `json:"avg_cagr"`
	PropertyCount int      `json:"property_count"`
	SalesCount    int      `json:"sales_count"`
}

// TrendPoint is one year of a trend series.
type TrendPoint struct {
	Year          int     `json:"year"`
	AvgCAGR       float64 `json:"avg_cagr"`
	PropertyCount int     `json:"property_count"`
}
