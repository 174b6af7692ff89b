package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthmap/server/config"
	"growthmap/server/internal/analytics"
	"growthmap/server/internal/database"
	"growthmap/server/internal/models"
	"growthmap/server/internal/queue"
)

type fakeIngester struct {
	mu      sync.Mutex
	batches [][]models.SaleEvent
	err     error
}

func (f *fakeIngester) Push(sales []models.SaleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, sales)
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type testServer struct {
	router   *gin.Engine
	db       *database.Database
	ingester *fakeIngester
	handler  *Handler
}

func sale(propertyID, dealing, date string, price float64, suburb, street string, lat, lon float64) models.SaleEvent {
	d, _ := time.Parse(models.DateLayout, date)
	return models.SaleEvent{
		PropertyID:    propertyID,
		DealingNumber: dealing,
		ContractDate:  d,
		PurchasePrice: price,
		Suburb:        suburb,
		StreetName:    street,
		HouseNumber:   "1",
		PropertyType:  "Residence",
		Latitude:      &lat,
		Longitude:     &lon,
	}
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabase(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.UpsertSales(context.Background(), []models.SaleEvent{
		sale("P1", "A1", "2020-01-01", 500000, "Newtown", "King Street", -33.897, 151.179),
		sale("P1", "A2", "2024-01-01", 620000, "Newtown", "King Street", -33.897, 151.179),
		sale("P2", "B1", "2019-06-01", 800000, "Enmore", "Enmore Road", -33.900, 151.172),
		sale("P2", "B2", "2024-03-01", 950000, "Enmore", "Enmore Road", -33.900, 151.172),
		sale("P3", "C1", "2024-05-01", 1_100_000, "Glebe", "Cowper Street", -33.879, 151.185),
	}))

	logger := logrus.New()
	engine := analytics.NewEngine(db, analytics.Options{}, logger)
	ingester := &fakeIngester{}
	handler := NewHandler(engine, ingester, Options{DefaultYear: 2024, MaxBatchSize: 3}, logger)
	handler.AddHealthCheck("store", db)
	handler.SetSaleCounter(db)

	router := gin.New()
	router.Use(RequestLogger(logger, nil))
	SetupRoutes(router, handler, http.NotFoundHandler())

	return &testServer{router: router, db: db, ingester: ingester, handler: handler}
}

func (s *testServer) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestStatusCodes(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{name: "Top performers", target: "/api/stats/top_performers?year=2024", status: http.StatusOK},
		{name: "Top performers bad range", target: "/api/stats/top_performers?min_price=9&max_price=1", status: http.StatusBadRequest},
		{name: "Top performers bad price", target: "/api/stats/top_performers?min_price=cheap", status: http.StatusBadRequest},
		{name: "Unified map", target: "/api/stats/unified_map?level=street", status: http.StatusOK},
		{name: "Unified map unknown level", target: "/api/stats/unified_map?level=state", status: http.StatusBadRequest},
		{name: "Street growth without suburb", target: "/api/stats/street_cagr?street_name=King%20Street", status: http.StatusBadRequest},
		{name: "Street trend", target: "/api/stats/street_trend?street_name=King%20Street&suburb=Newtown", status: http.StatusOK},
		{name: "Suburb trend without suburb", target: "/api/stats/suburb_trend", status: http.StatusBadRequest},
		{name: "Neighbours", target: "/api/stats/neighbors/suburb?suburb=Newtown", status: http.StatusOK},
		{name: "Neighbours unknown level", target: "/api/stats/neighbors/state?suburb=Newtown", status: http.StatusBadRequest},
		{name: "Bad year", target: "/api/stats/suburb_cagr?suburb=Newtown&year=last", status: http.StatusBadRequest},
		{name: "Unified map too many neighbours", target: "/api/stats/unified_map?neighbors=9", status: http.StatusBadRequest},
		{name: "Unified map zero neighbours", target: "/api/stats/unified_map?neighbors=0", status: http.StatusBadRequest},
		{name: "Unified map zero top_k", target: "/api/stats/unified_map?top_k=0", status: http.StatusBadRequest},
		{name: "Unified map zero radius", target: "/api/stats/unified_map?radius_km=0", status: http.StatusBadRequest},
		{name: "Unified map negative radius", target: "/api/stats/unified_map/geojson?radius_km=-1", status: http.StatusBadRequest},
		{name: "Sales search", target: "/api/sales?suburb=new", status: http.StatusOK},
		{name: "Sales search bad date", target: "/api/sales?start_date=01/02/2024", status: http.StatusBadRequest},
		{name: "Sales search inverted period", target: "/api/sales?start_date=2024-05-01&end_date=2024-01-01", status: http.StatusBadRequest},
		{name: "Sales search negative skip", target: "/api/sales?skip=-1", status: http.StatusBadRequest},
		{name: "Sales search zero limit", target: "/api/sales?limit=0", status: http.StatusBadRequest},
		{name: "Sales search huge limit", target: "/api/sales?limit=5000", status: http.StatusBadRequest},
		{name: "Monthly prices", target: "/api/stats/monthly_median?start_date=2024-01-01", status: http.StatusOK},
		{name: "Top suburbs bad limit", target: "/api/stats/top_suburbs?limit=none", status: http.StatusBadRequest},
		{name: "Global summary", target: "/api/stats/global_summary", status: http.StatusOK},
		{name: "Property neighbours bad range", target: "/api/property/P1/neighbors?min_price=9&max_price=1", status: http.StatusBadRequest},
		{name: "Regions", target: "/api/regions", status: http.StatusOK},
		{name: "Region by name", target: "/api/regions?region=Sydney", status: http.StatusOK},
		{name: "Unknown region", target: "/api/regions?region=perth", status: http.StatusNotFound},
		{name: "Health", target: "/health", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestGetTopPerformers(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/top_performers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.TopPerformers
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Growth.Suburbs, 2)
	assert.Len(t, result.Activity.Suburbs, 3)

	// Glebe only has a first sale, so it is absent from the growth board.
	for _, e := range result.Growth.Suburbs {
		assert.NotEqual(t, "Glebe", e.Name)
	}

	rec = s.do(t, http.MethodGet, "/api/stats/top_performers?property_type=Unit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Empty(t, result.Growth.Suburbs)
	assert.Empty(t, result.Activity.Streets)
}

func TestGetSuburbCAGR_NoData(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/suburb_cagr?suburb=Glebe&year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "avg_cagr")
	assert.Nil(t, body["avg_cagr"])
	assert.Equal(t, 1.0, body["sales_count"])
}

func TestGetUnifiedMapGeoJSON(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/unified_map/geojson?top_k=1&neighbors=2&radius_km=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Type     string `json:"type"`
		Features []struct {
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FeatureCollection", body.Type)
	// one cluster, two neighbours, one hull
	require.Len(t, body.Features, 4)
	assert.Equal(t, "cluster", body.Features[0].Properties["kind"])
}

func TestGetPropertyHistory(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/property/P1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []models.PropertySale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Nil(t, history[0].Growth)
	require.NotNil(t, history[1].Growth)
	assert.InDelta(t, 0.24, history[1].Growth.TotalGrowth, 1e-9)

	rec = s.do(t, http.MethodGet, "/api/property/unknown/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetPropertyNeighbors(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/property/P1/neighbors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var neighbors []models.PropertyNeighbor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &neighbors))
	require.Len(t, neighbors, 2)
	assert.Equal(t, "P2", neighbors[0].PropertyID)
	assert.Equal(t, "P3", neighbors[1].PropertyID)
	assert.Less(t, neighbors[0].DistanceKm, neighbors[1].DistanceKm)
	assert.NotNil(t, neighbors[0].CAGR)
	assert.Nil(t, neighbors[1].CAGR)

	rec = s.do(t, http.MethodGet, "/api/property/P1/neighbors?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &neighbors))
	require.Len(t, neighbors, 1)
	assert.Equal(t, "P2", neighbors[0].PropertyID)

	rec = s.do(t, http.MethodGet, "/api/property/P1/neighbors?min_price=1000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &neighbors))
	require.Len(t, neighbors, 1)
	assert.Equal(t, "P3", neighbors[0].PropertyID)

	rec = s.do(t, http.MethodGet, "/api/property/unknown/neighbors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSearchSales(t *testing.T) {
	s := setupServer(t)

	tests := []struct {
		name    string
		target  string
		dealing []string
	}{
		{name: "All, newest first", target: "/api/sales", dealing: []string{"C1", "B2", "A2", "A1", "B1"}},
		{name: "Suburb substring", target: "/api/sales?suburb=NEW", dealing: []string{"A2", "A1"}},
		{name: "Period", target: "/api/sales?start_date=2024-01-01&end_date=2024-03-31", dealing: []string{"B2", "A2"}},
		{name: "Page", target: "/api/sales?skip=1&limit=2", dealing: []string{"B2", "A2"}},
		{name: "Past the end", target: "/api/sales?skip=10", dealing: []string{}},
		{name: "Minimum growth in percent", target: "/api/sales?min_growth=5", dealing: []string{"A2"}},
		{name: "Growth across the period start", target: "/api/sales?start_date=2024-01-01&min_growth=1", dealing: []string{"B2", "A2"}},
		{name: "Price filter", target: "/api/sales?min_price=900000", dealing: []string{"C1", "B2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.target, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var sales []models.PropertySale
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sales))
			got := make([]string, 0, len(sales))
			for _, ps := range sales {
				got = append(got, ps.DealingNumber)
			}
			assert.Equal(t, tt.dealing, got)
		})
	}
}

func TestGetMonthlyPrices(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/monthly_median?start_date=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var months []models.MonthlyPrice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &months))
	assert.Equal(t, []models.MonthlyPrice{
		{Month: "2024-01", AvgPrice: 620000, Count: 1},
		{Month: "2024-03", AvgPrice: 950000, Count: 1},
		{Month: "2024-05", AvgPrice: 1_100_000, Count: 1},
	}, months)
}

func TestGetTopSuburbs(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/top_suburbs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var suburbs []models.SuburbVolume
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suburbs))
	assert.Equal(t, []models.SuburbVolume{
		{Suburb: "Enmore", SalesCount: 2, AvgPrice: 875000},
		{Suburb: "Newtown", SalesCount: 2, AvgPrice: 560000},
	}, suburbs)

	rec = s.do(t, http.MethodGet, "/api/stats/top_suburbs?start_date=2024-04-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suburbs))
	require.Len(t, suburbs, 1)
	assert.Equal(t, "Glebe", suburbs[0].Suburb)
}

func TestGetGlobalSummary(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/stats/global_summary?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.GlobalSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.TopSuburbs, 1)
	assert.Equal(t, "Newtown", summary.TopSuburbs[0].Name)
	require.Len(t, summary.TopStreets, 1)
	assert.Equal(t, "King Street", summary.TopStreets[0].StreetName)
}

func TestGetRegions(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/regions?region=sydney", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var region config.Region
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &region))
	assert.Equal(t, "sydney", region.Name)
	assert.Equal(t, 10, region.ZoomLevel)

	rec = s.do(t, http.MethodGet, "/api/regions?region=perth", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Available []string `json:"available"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, config.GetRegionNames(), body.Available)

	rec = s.do(t, http.MethodGet, "/api/regions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var regions []config.Region
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regions))
	assert.Len(t, regions, len(config.SupportedRegions))
}

func TestHealth_SalesStored(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 5.0, body["sales_stored"])
}

func TestStoreUnavailable(t *testing.T) {
	s := setupServer(t)
	require.NoError(t, s.db.Close())

	rec := s.do(t, http.MethodGet, "/api/stats/top_performers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealth_Degraded(t *testing.T) {
	s := setupServer(t)
	s.handler.AddHealthCheck("cache", fakePinger{err: errors.New("connection refused")})

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache":"unavailable"`)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)
}

func TestIngestSales(t *testing.T) {
	valid := `{"sales":[{"property_id":"P9","dealing_number":"Z1","contract_date":"2024-02-03","purchase_price":700000,"suburb":"Bondi","street_name":"Hall Street","latitude":-33.891,"longitude":151.274}]}`

	tests := []struct {
		name     string
		body     string
		pushErr  error
		status   int
		accepted int
	}{
		{name: "Valid batch", body: valid, status: http.StatusAccepted, accepted: 1},
		{name: "Malformed JSON", body: `{"sales":`, status: http.StatusBadRequest},
		{name: "Empty batch", body: `{"sales":[]}`, status: http.StatusBadRequest},
		{name: "Bad date", body: `{"sales":[{"property_id":"P9","dealing_number":"Z1","contract_date":"03/02/2024","suburb":"Bondi"}]}`, status: http.StatusBadRequest},
		{name: "Half a coordinate", body: `{"sales":[{"property_id":"P9","dealing_number":"Z1","contract_date":"2024-02-03","suburb":"Bondi","latitude":-33.8}]}`, status: http.StatusBadRequest},
		{name: "Too many sales", body: `{"sales":[{},{},{},{}]}`, status: http.StatusBadRequest},
		{name: "Queue full", body: valid, pushErr: queue.ErrQueueFull, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupServer(t)
			s.ingester.err = tt.pushErr

			rec := s.do(t, http.MethodPost, "/api/sales", []byte(tt.body))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.accepted > 0 {
				require.Len(t, s.ingester.batches, 1)
				assert.Len(t, s.ingester.batches[0], tt.accepted)
				assert.Equal(t, "Bondi", s.ingester.batches[0][0].Suburb)
			}
		})
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	s := setupServer(t)

	rec := s.do(t, http.MethodGet, "/api/regions", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/regions", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}
