package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func TestFilters_Allows(t *testing.T) {
	sale := &SaleEvent{
		PropertyID:    "P1",
		ContractDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PurchasePrice: 750000,
		PropertyType:  "Residence",
	}

	tests := []struct {
		name    string
		filters Filters
		allowed bool
	}{
		{name: "No filters", filters: Filters{}, allowed: true},
		{name: "Matching type", filters: Filters{PropertyType: "Residence"}, allowed: true},
		{name: "Other type", filters: Filters{PropertyType: "Vacant Land"}, allowed: false},
		{name: "Inside range", filters: Filters{MinPrice: price(700000), MaxPrice: price(800000)}, allowed: true},
		{name: "Inclusive bounds", filters: Filters{MinPrice: price(750000), MaxPrice: price(750000)}, allowed: true},
		{name: "Below minimum", filters: Filters{MinPrice: price(750001)}, allowed: false},
		{name: "Above maximum", filters: Filters{MaxPrice: price(749999)}, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.filters.Allows(sale))
		})
	}
}

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{name: "Suburb level", query: Query{Level: LevelSuburb, Year: 2024}},
		{name: "Street scoped", query: Query{Level: LevelStreet, Year: 2024, Suburb: "Newtown", Street: "King St"}},
		{name: "Unknown level", query: Query{Level: "state", Year: 2024}, wantErr: true},
		{name: "Missing year", query: Query{Level: LevelSuburb}, wantErr: true},
		{name: "Street without suburb", query: Query{Level: LevelStreet, Year: 2024, Street: "King St"}, wantErr: true},
		{name: "Inverted price range", query: Query{Level: LevelSuburb, Year: 2024, Filters: Filters{MinPrice: price(2e6), MaxPrice: price(1e6)}}, wantErr: true},
		{name: "Negative price", query: Query{Level: LevelSuburb, Year: 2024, Filters: Filters{MinPrice: price(-1)}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidFilter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestQuery_CacheKeyCoversEveryFilter(t *testing.T) {
	base := Query{Level: LevelSuburb, Year: 2024}
	variants := []Query{
		{Level: LevelStreet, Year: 2024},
		{Level: LevelSuburb, Year: 2023},
		{Level: LevelSuburb, Year: 2024, Suburb: "Newtown"},
		{Level: LevelSuburb, Year: 2024, Suburb: "Newtown", Street: "King St"},
		{Level: LevelSuburb, Year: 2024, Filters: Filters{PropertyType: "Residence"}},
		{Level: LevelSuburb, Year: 2024, Filters: Filters{MinPrice: price(1)}},
		{Level: LevelSuburb, Year: 2024, Filters: Filters{MaxPrice: price(1)}},
	}

	seen := map[string]bool{base.CacheKey(): true}
	for _, v := range variants {
		key := v.CacheKey()
		assert.False(t, seen[key], "duplicate cache key %s", key)
		seen[key] = true
	}
	assert.Equal(t, base.CacheKey(), Query{Level: LevelSuburb, Year: 2024}.CacheKey())
}

func TestAggregateKey_Names(t *testing.T) {
	street := StreetKey("Erskineville", "Swanson St")
	assert.Equal(t, "Swanson St, Erskineville", street.Name())
	assert.Equal(t, "Swanson St_Erskineville", street.ID())

	suburb := SuburbKey("Erskineville")
	assert.Equal(t, "Erskineville", suburb.Name())
	assert.Equal(t, "Erskineville", suburb.ID())
	assert.NotEqual(t, StreetKey("Newtown", "King St"), StreetKey("Sydney", "King St"))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" Street ")
	require.NoError(t, err)
	assert.Equal(t, LevelStreet, level)

	_, err = ParseLevel("property")
	assert.Error(t, err)
}

func TestDedupeSales(t *testing.T) {
	sales := []SaleEvent{
		{PropertyID: "A", DealingNumber: "1", PurchasePrice: 100},
		{PropertyID: "B", DealingNumber: "1", PurchasePrice: 200},
		{PropertyID: "A", DealingNumber: "1", PurchasePrice: 150},
		{PropertyID: "A", DealingNumber: "2", PurchasePrice: 300},
	}

	out := DedupeSales(sales)
	assert.Len(t, out, 3)
	assert.Equal(t, 150.0, out[0].PurchasePrice)
	assert.Equal(t, "B", out[1].PropertyID)
	assert.Equal(t, "2", out[2].DealingNumber)
}
