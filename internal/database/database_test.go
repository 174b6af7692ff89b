package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthmap/server/internal/models"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := NewDatabase(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })
	return db
}

func testSale(propertyID, dealing, date string, price float64, suburb, street string) models.SaleEvent {
	d, _ := time.Parse(models.DateLayout, date)
	return models.SaleEvent{
		PropertyID:    propertyID,
		DealingNumber: dealing,
		ContractDate:  d,
		PurchasePrice: price,
		Suburb:        suburb,
		StreetName:    street,
		HouseNumber:   "12",
		PropertyType:  "Residence",
		PostCode:      "2042",
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.RunMigrations())
}

func TestUpsertSales(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lat, lon := -33.897, 151.179
	url := "https://www.realestate.com.au/property/12-king-st-newtown"
	first := testSale("P1", "AA100", "2020-01-15", 500000, "Newtown", "King Street")
	first.Latitude, first.Longitude = &lat, &lon
	first.RealestateURL = &url

	err := db.UpsertSales(ctx, []models.SaleEvent{
		first,
		testSale("P1", "AB200", "2023-01-15", 605000, "Newtown", "King Street"),
		testSale("P2", "AC300", "2024-05-01", 900000, "Glebe", "Cowper Street"),
	})
	require.NoError(t, err)

	count, err := db.CountSales(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Replaying a dealing updates the stored row.
	corrected := testSale("P1", "AB200", "2023-01-15", 610000, "Newtown", "King Street")
	require.NoError(t, db.UpsertSales(ctx, []models.SaleEvent{corrected}))

	count, err = db.CountSales(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	history, err := db.PropertySales(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "AA100", history[0].DealingNumber)
	assert.Equal(t, 610000.0, history[1].PurchasePrice)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), history[1].ContractDate)
	require.True(t, history[0].HasCoordinates())
	assert.Equal(t, lat, *history[0].Latitude)
	require.NotNil(t, history[0].RealestateURL)
	assert.Equal(t, url, *history[0].RealestateURL)
	assert.Nil(t, history[1].Latitude)
	assert.Nil(t, history[1].DomainURL)

	assert.NoError(t, db.UpsertSales(ctx, nil))
}

func TestListSales(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertSales(ctx, []models.SaleEvent{
		testSale("P1", "D1", "2019-06-01", 500000, "Newtown", "King Street"),
		testSale("P1", "D2", "2024-02-01", 700000, "Newtown", "King Street"),
		testSale("P2", "D3", "2024-03-01", 800000, "Newtown", "Wilson Street"),
		testSale("P3", "D4", "2025-01-10", 900000, "Glebe", "Cowper Street"),
	}))

	end := time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter models.SaleFilter
		want   []string
	}{
		{name: "No filter", filter: models.SaleFilter{}, want: []string{"D1", "D2", "D3", "D4"}},
		{name: "Up to year end", filter: models.SaleFilter{To: end}, want: []string{"D1", "D2", "D3"}},
		{name: "Date range", filter: models.SaleFilter{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), To: end}, want: []string{"D2", "D3"}},
		{name: "Suburb", filter: models.SaleFilter{Suburb: "Glebe"}, want: []string{"D4"}},
		{name: "Street", filter: models.SaleFilter{Suburb: "Newtown", Street: "Wilson Street"}, want: []string{"D3"}},
		{name: "Unknown suburb", filter: models.SaleFilter{Suburb: "Bondi"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sales, err := db.ListSales(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(sales))
			for _, s := range sales {
				got = append(got, s.DealingNumber)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPropertySales_Unknown(t *testing.T) {
	db := setupTestDB(t)

	sales, err := db.PropertySales(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestListSales_ClosedDatabase(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Close())

	_, err := db.ListSales(context.Background(), models.SaleFilter{})
	assert.Error(t, err)
}
