package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidFilter is returned when a query cannot be answered as given.
// Queries are rejected, never silently corrected.
var ErrInvalidFilter = errors.New("invalid filter combination")

// Filters restricts which sales qualify for a query.
type Filters struct {
	PropertyType string   `json:"property_type,omitempty"`
	MinPrice     *float64 `json:"min_price,omitempty"`
	MaxPrice     *float64 `json:"max_price,omitempty"`
}

// Validate rejects impossible price ranges.
func (f Filters) Validate() error {
	if f.MinPrice != nil && *f.MinPrice < 0 {
		return fmt.Errorf("%w: min_price must not be negative", ErrInvalidFilter)
	}
	if f.MaxPrice != nil && *f.MaxPrice < 0 {
		return fmt.Errorf("%w: max_price must not be negative", ErrInvalidFilter)
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return fmt.Errorf("%w: min_price %.0f is greater than max_price %.0f", ErrInvalidFilter, *f.MinPrice, *f.MaxPrice)
	}
	return nil
}

// Allows checks if a sale matches the filter criteria.
func (f Filters) Allows(s *SaleEvent) bool {
	if f.PropertyType != "" && s.PropertyType != f.PropertyType {
		return false
	}
	if f.MinPrice != nil && s.PurchasePrice < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && s.PurchasePrice > *f.MaxPrice {
		return false
	}
	return true
}

// Query is the immutable descriptor passed into every engine call. It carries the
// full drill-down position; the engine keeps no notion of a current view.
type Query struct {
	Level      Level   `json:"level"`
	Year       int     `json:"year"`
	Suburb     string  `json:"suburb,omitempty"`
	Street     string  `json:"street_name,omitempty"`
	PropertyID string  `json:"property_id,omitempty"`
	Filters    Filters `json:"filters"`
}

// Validate checks the query for the aggregation operations.
func (q Query) Validate() error {
	if !q.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidFilter, q.Level)
	}
	if q.Year <= 0 {
		return fmt.Errorf("%w: year must be positive", ErrInvalidFilter)
	}
	if q.Street != "" && q.Suburb == "" {
		return fmt.Errorf("%w: street_name requires suburb", ErrInvalidFilter)
	}
	return q.Filters.Validate()
}

// InScope reports whether the sale lies inside the suburb/street selection.
func (q Query) InScope(s *SaleEvent) bool {
	if q.Suburb != "" && s.Suburb != q.Suburb {
		return false
	}
	if q.Street != "" && s.StreetName != q.Street {
		return false
	}
	return true
}

// CacheKey encodes every value that influences an aggregation result.
func (q Query) CacheKey() string {
	parts := []string{
		string(q.Level),
		strconv.Itoa(q.Year),
		"s=" + q.Suburb,
		"st=" + q.Street,
		"t=" + q.Filters.PropertyType,
		"min=" + formatBound(q.Filters.MinPrice),
		"max=" + formatBound(q.Filters.MaxPrice),
	}
	return strings.Join(parts, "|")
}

func formatBound(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
