package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxSearchLimit bounds one page of sale search results.
const MaxSearchLimit = 1000

// Period is an inclusive contract date range. A zero bound is open.
type Period struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

func (p Period) Validate() error {
	if !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return fmt.Errorf("%w: start_date %s is after end_date %s", ErrInvalidFilter,
			p.From.Format(DateLayout), p.To.Format(DateLayout))
	}
	return nil
}

// Contains reports whether t lies inside the period.
func (p Period) Contains(t time.Time) bool {
	if !p.From.IsZero() && t.Before(p.From) {
		return false
	}
	if !p.To.IsZero() && t.After(p.To) {
		return false
	}
	return true
}

// SaleSearch selects a page of sales for the sale browser.
type SaleSearch struct {
	// Suburb matches case-insensitively anywhere in the suburb name.
	Suburb  string
	Filters Filters
	Period  Period
	// MinGrowth is a CAGR fraction; sales without a growth figure never match it.
	MinGrowth *float64
	Offset    int
	Limit     int
}

func (s SaleSearch) Validate() error {
	if err := s.Filters.Validate(); err != nil {
		return err
	}
	if err := s.Period.Validate(); err != nil {
		return err
	}
	if s.MinGrowth != nil && (math.IsNaN(*s.MinGrowth) || math.IsInf(*s.MinGrowth, 0)) {
		return fmt.Errorf("%w: min_growth must be a finite number", ErrInvalidFilter)
	}
	if s.Offset < 0 {
		return fmt.Errorf("%w: skip must not be negative", ErrInvalidFilter)
	}
	if s.Limit < 0 || s.Limit > MaxSearchLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, MaxSearchLimit)
	}
	return nil
}

// Matches reports whether a sale with its growth figure belongs in the result.
func (s SaleSearch) Matches(ps *PropertySale) bool {
	if s.Suburb != "" && !strings.Contains(strings.ToLower(ps.Suburb), strings.ToLower(s.Suburb)) {
		return false
	}
	if !s.Filters.Allows(&ps.SaleEvent) || !s.Period.Contains(ps.ContractDate) {
		return false
	}
	if s.MinGrowth != nil && (ps.Growth == nil || ps.Growth.CAGR < *s.MinGrowth) {
		return false
	}
	return true
}

// MonthlyPrice is the average price and volume of one calendar month.
type MonthlyPrice struct {
	Month    string  `json:"month"`
	AvgPrice float64 `json:"avg_price"`
	Count    int     `json:"count"`
}

// SuburbVolume is a suburb ranked by the number of sales in a period.
type SuburbVolume struct {
	Suburb     string  `json:"suburb"`
	SalesCount int     `json:"count"`
	AvgPrice   float64 `json:"avg_price"`
}

// GlobalSummary holds the all-time growth leaders of both levels.
type GlobalSummary struct {
	TopSuburbs []LeaderboardEntry `json:"top_suburbs"`
	TopStreets []LeaderboardEntry `json:"top_streets"`
}

// PropertyNeighbor is a nearby parcel with its latest growth figure.
type PropertyNeighbor struct {
	PropertyID string   `json:"property_id"`
	Address    string   `json:"address"`
	Suburb     string   `json:"suburb"`
	Lat        float64  `json:"latitude"`
	Lon        float64  `json:"longitude"`
	CAGR       *float64 `json:"avg_cagr"`
	LastPrice  float64  `json:"last_price"`
	DistanceKm float64  `json:"distance_km"`
}
