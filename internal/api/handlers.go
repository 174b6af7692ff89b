package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"growthmap/server/config"
	"growthmap/server/internal/analytics"
	"growthmap/server/internal/geometry"
	"growthmap/server/internal/models"
	"growthmap/server/internal/queue"
)

// SaleIngester accepts batches of parsed sales for storage.
type SaleIngester interface {
	Push(sales []models.SaleEvent) error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SaleCounter reports how many sales the store holds.
type SaleCounter interface {
	CountSales(ctx context.Context) (int, error)
}

type Options struct {
	DefaultYear  int
	MaxBatchSize int
}

type Handler struct {
	engine   *analytics.Engine
	ingester SaleIngester
	checks   map[string]Pinger
	counter  SaleCounter
	opts     Options
	logger   *logrus.Logger
}

// SaleRequest is one sale in an ingestion request.
type SaleRequest struct {
	PropertyID    string   `json:"property_id" binding:"required"`
	DealingNumber string   `json:"dealing_number" binding:"required"`
	ContractDate  string   `json:"contract_date" binding:"required"`
	PurchasePrice float64  `json:"purchase_price"`
	Suburb        string   `json:"suburb" binding:"required"`
	StreetName    string   `json:"street_name"`
	HouseNumber   string   `json:"house_number"`
	PropertyType  string   `json:"property_type"`
	PostCode      string   `json:"post_code"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	RealestateURL *string  `json:"realestate_url"`
	DomainURL     *string  `json:"domain_url"`
}

type IngestRequest struct {
	Sales []SaleRequest `json:"sales" binding:"required"`
}

func NewHandler(engine *analytics.Engine, ingester SaleIngester, opts Options, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if opts.DefaultYear <= 0 {
		opts.DefaultYear = 2024
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 1000
	}

	return &Handler{
		engine:   engine,
		ingester: ingester,
		checks:   make(map[string]Pinger),
		opts:     opts,
		logger:   logger,
	}
}

// AddHealthCheck registers a dependency reported by /health.
func (h *Handler) AddHealthCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetSaleCounter makes /health report the number of stored sales.
func (h *Handler) SetSaleCounter(counter SaleCounter) {
	h.counter = counter
}

// fail maps engine errors to status codes.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, analytics.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, analytics.ErrUpstreamUnavailable):
		h.logger.WithError(err).Error(msg)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Sale store unavailable"})
	default:
		h.logger.WithError(err).Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

func queryFloat(c *gin.Context, key string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &v, nil
}

// queryPositiveInt reads an optional parameter that must be positive when given.
// Absent parameters yield zero.
func queryPositiveInt(c *gin.Context, key string) (int, error) {
	v, err := queryInt(c, key, 0)
	if err != nil {
		return 0, err
	}
	if _, present := c.GetQuery(key); present && v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return v, nil
}

func queryDate(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must use YYYY-MM-DD", key)
	}
	return d, nil
}

func parsePeriod(c *gin.Context) (models.Period, error) {
	from, err := queryDate(c, "start_date")
	if err != nil {
		return models.Period{}, err
	}
	to, err := queryDate(c, "end_date")
	if err != nil {
		return models.Period{}, err
	}
	return models.Period{From: from, To: to}, nil
}

func parseFilters(c *gin.Context) (models.Filters, error) {
	minPrice, err := queryFloat(c, "min_price")
	if err != nil {
		return models.Filters{}, err
	}
	maxPrice, err := queryFloat(c, "max_price")
	if err != nil {
		return models.Filters{}, err
	}
	return models.Filters{
		PropertyType: strings.TrimSpace(c.Query("property_type")),
		MinPrice:     minPrice,
		MaxPrice:     maxPrice,
	}, nil
}

// parseQuery builds the query descriptor shared by the stats endpoints.
func (h *Handler) parseQuery(c *gin.Context, level models.Level) (models.Query, error) {
	year, err := queryInt(c, "year", h.opts.DefaultYear)
	if err != nil {
		return models.Query{}, err
	}
	filters, err := parseFilters(c)
	if err != nil {
		return models.Query{}, err
	}

	return models.Query{
		Level:   level,
		Year:    year,
		Suburb:  strings.TrimSpace(c.Query("suburb")),
		Street:  strings.TrimSpace(c.Query("street_name")),
		Filters: filters,
	}, nil
}

func (h *Handler) parseLevel(c *gin.Context, raw string) (models.Level, bool) {
	level, err := models.ParseLevel(raw)
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return level, true
}

func (h *Handler) GetTopPerformers(c *gin.Context) {
	q, err := h.parseQuery(c, models.LevelSuburb)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.TopPerformers(c.Request.Context(), q, limit)
	if err != nil {
		h.fail(c, err, "Failed to get top performers")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) unifiedMap(c *gin.Context) (*models.UnifiedMap, bool) {
	level, ok := h.parseLevel(c, c.DefaultQuery("level", string(models.LevelSuburb)))
	if !ok {
		return nil, false
	}
	q, err := h.parseQuery(c, level)
	if err != nil {
		badRequest(c, err.Error())
		return nil, false
	}

	var opts analytics.MapOptions
	if opts.TopK, err = queryPositiveInt(c, "top_k"); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	if opts.NeighborsPerCluster, err = queryPositiveInt(c, "neighbors"); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	radius, err := queryFloat(c, "radius_km")
	if err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	if radius != nil {
		if *radius <= 0 {
			badRequest(c, "radius_km must be positive")
			return nil, false
		}
		opts.NeighborRadiusKm = *radius
	}

	result, err := h.engine.UnifiedMap(c.Request.Context(), q, opts)
	if err != nil {
		h.fail(c, err, "Failed to build unified map")
		return nil, false
	}
	return result, true
}

func (h *Handler) GetUnifiedMap(c *gin.Context) {
	if result, ok := h.unifiedMap(c); ok {
		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) GetUnifiedMapGeoJSON(c *gin.Context) {
	if result, ok := h.unifiedMap(c); ok {
		c.JSON(http.StatusOK, geometry.ClustersFeatureCollection(result))
	}
}

func (h *Handler) GetStreetCAGR(c *gin.Context) {
	q, err := h.parseQuery(c, models.LevelStreet)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.StreetCAGR(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err, "Failed to get street growth")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetSuburbCAGR(c *gin.Context) {
	q, err := h.parseQuery(c, models.LevelSuburb)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.engine.SuburbCAGR(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err, "Failed to get suburb growth")
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) trend(c *gin.Context, level models.Level) {
	q, err := h.parseQuery(c, level)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	points, err := h.engine.Trend(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err, "Failed to get trend")
		return
	}

	c.JSON(http.StatusOK, points)
}

func (h *Handler) GetStreetTrend(c *gin.Context) {
	h.trend(c, models.LevelStreet)
}

func (h *Handler) GetSuburbTrend(c *gin.Context) {
	h.trend(c, models.LevelSuburb)
}

func (h *Handler) GetPropertyHistory(c *gin.Context) {
	q := models.Query{PropertyID: c.Param("property_id")}

	history, err := h.engine.PropertyHistory(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err, "Failed to get property history")
		return
	}

	c.JSON(http.StatusOK, history)
}

func (h *Handler) GetPropertyNeighbors(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryPositiveInt(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	q := models.Query{PropertyID: c.Param("property_id"), Filters: filters}
	neighbors, err := h.engine.PropertyNeighbors(c.Request.Context(), q, limit)
	if err != nil {
		h.fail(c, err, "Failed to get neighbouring properties")
		return
	}

	c.JSON(http.StatusOK, neighbors)
}

// SearchSales serves the sale browser. min_growth is a percentage.
func (h *Handler) SearchSales(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	period, err := parsePeriod(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	minGrowth, err := queryFloat(c, "min_growth")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if minGrowth != nil {
		fraction := *minGrowth / 100
		minGrowth = &fraction
	}
	skip, err := queryInt(c, "skip", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryPositiveInt(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	sales, err := h.engine.SearchSales(c.Request.Context(), models.SaleSearch{
		Suburb:    strings.TrimSpace(c.Query("suburb")),
		Filters:   filters,
		Period:    period,
		MinGrowth: minGrowth,
		Offset:    skip,
		Limit:     limit,
	})
	if err != nil {
		h.fail(c, err, "Failed to search sales")
		return
	}

	c.JSON(http.StatusOK, sales)
}

func (h *Handler) GetMonthlyPrices(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	period, err := parsePeriod(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	months, err := h.engine.MonthlyPrices(c.Request.Context(), period, filters)
	if err != nil {
		h.fail(c, err, "Failed to get monthly prices")
		return
	}

	c.JSON(http.StatusOK, months)
}

func (h *Handler) GetTopSuburbs(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	period, err := parsePeriod(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryPositiveInt(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	suburbs, err := h.engine.TopSuburbs(c.Request.Context(), period, filters, limit)
	if err != nil {
		h.fail(c, err, "Failed to get top suburbs")
		return
	}

	c.JSON(http.StatusOK, suburbs)
}

func (h *Handler) GetGlobalSummary(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryPositiveInt(c, "limit")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.engine.GlobalSummary(c.Request.Context(), filters, limit)
	if err != nil {
		h.fail(c, err, "Failed to get global summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) GetNeighbors(c *gin.Context) {
	level, ok := h.parseLevel(c, c.Param("level"))
	if !ok {
		return
	}
	q, err := h.parseQuery(c, level)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryInt(c, "limit", analytics.DefaultNeighborLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	neighbors, err := h.engine.Neighbors(c.Request.Context(), q, limit)
	if err != nil {
		h.fail(c, err, "Failed to get neighbours")
		return
	}

	c.JSON(http.StatusOK, neighbors)
}

func (h *Handler) GetSuburbCentroids(c *gin.Context) {
	centroids, err := h.engine.SuburbCentroids(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to get suburb centroids")
		return
	}

	c.JSON(http.StatusOK, centroids)
}

func (r SaleRequest) toEvent() (models.SaleEvent, error) {
	date, err := time.Parse(models.DateLayout, r.ContractDate)
	if err != nil {
		return models.SaleEvent{}, fmt.Errorf("contract_date must use YYYY-MM-DD: %q", r.ContractDate)
	}

	s := models.SaleEvent{
		PropertyID:    strings.TrimSpace(r.PropertyID),
		DealingNumber: strings.TrimSpace(r.DealingNumber),
		ContractDate:  date,
		PurchasePrice: r.PurchasePrice,
		Suburb:        strings.TrimSpace(r.Suburb),
		StreetName:    strings.TrimSpace(r.StreetName),
		HouseNumber:   strings.TrimSpace(r.HouseNumber),
		PropertyType:  strings.TrimSpace(r.PropertyType),
		PostCode:      strings.TrimSpace(r.PostCode),
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		RealestateURL: r.RealestateURL,
		DomainURL:     r.DomainURL,
	}
	return s, s.Validate()
}

func (h *Handler) IngestSales(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Error("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(req.Sales) == 0 {
		badRequest(c, "sales must not be empty")
		return
	}
	if len(req.Sales) > h.opts.MaxBatchSize {
		badRequest(c, fmt.Sprintf("at most %d sales per request", h.opts.MaxBatchSize))
		return
	}

	sales := make([]models.SaleEvent, 0, len(req.Sales))
	for i, r := range req.Sales {
		s, err := r.toEvent()
		if err != nil {
			badRequest(c, fmt.Sprintf("sale %d: %v", i, err))
			return
		}
		sales = append(sales, s)
	}

	if err := h.ingester.Push(sales); err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			h.logger.WithError(err).Warn("Sale batch rejected")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to queue sales")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue sales"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": len(sales)})
}

// GetRegions lists the map regions, or returns one when region is given.
func (h *Handler) GetRegions(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Query("region")))
	if name == "" {
		c.JSON(http.StatusOK, config.SupportedRegions)
		return
	}

	region := config.GetRegionByName(name)
	if region == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     fmt.Sprintf("unknown region %q", name),
			"available": config.GetRegionNames(),
		})
		return
	}
	c.JSON(http.StatusOK, region)
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	body := gin.H{"status": state, "checks": checks}

	if h.counter != nil && status == http.StatusOK {
		if n, err := h.counter.CountSales(ctx); err != nil {
			h.logger.WithError(err).Warn("Failed to count sales")
		} else {
			body["sales_stored"] = n
		}
	}
	c.JSON(status, body)
}
