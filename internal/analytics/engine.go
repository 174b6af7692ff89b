package analytics

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"growthmap/server/internal/geometry"
	"growthmap/server/internal/models"
)

// DefaultNeighborLimit is the number of peers returned by Neighbors when no
// limit is given.
const DefaultNeighborLimit = 10

// DefaultPropertyNeighborLimit is the number of peers returned by
// PropertyNeighbors when no limit is given.
const DefaultPropertyNeighborLimit = 20

// Options holds the engine defaults.
type Options struct {
	LeaderboardSize int
	Map             MapOptions
}

// DefaultOptions returns the defaults used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		LeaderboardSize: 5,
		Map: MapOptions{
			TopK:                10,
			NeighborsPerCluster: MaxNeighborsPerCluster,
			NeighborRadiusKm:    5,
		},
	}
}

// Engine answers growth queries over a sale store. It holds no per-query state.
type Engine struct {
	store   SaleReader
	cache   AggregateCache
	metrics Recorder
	logger  *logrus.Logger
	opts    Options
}

// NewEngine creates an engine over store. A nil logger falls back to JSON on stdout.
func NewEngine(store SaleReader, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	d := DefaultOptions()
	if opts.LeaderboardSize <= 0 {
		opts.LeaderboardSize = d.LeaderboardSize
	}
	if err := opts.Map.Validate(); err != nil {
		logger.WithError(err).Warn("Ignoring invalid map defaults")
		opts.Map = MapOptions{}
	}
	opts.Map = opts.Map.withDefaults(d.Map)

	return &Engine{store: store, opts: opts, logger: logger}
}

// UseCache enables the aggregate cache.
func (e *Engine) UseCache(cache AggregateCache) {
	e.cache = cache
}

// UseMetrics enables query metrics.
func (e *Engine) UseMetrics(m Recorder) {
	e.metrics = m
}

func (e *Engine) observe(operation string, start time.Time, err *error) {
	if e.metrics != nil {
		e.metrics.ObserveQuery(operation, time.Since(start).Seconds(), *err)
	}
}

func upstream(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// Aggregate returns the statistics of every entity at q.Level for q.Year.
func (e *Engine) Aggregate(ctx context.Context, q models.Query) (stats map[models.AggregateKey]models.AggregateStat, err error) {
	defer e.observe("aggregate", time.Now(), &err)
	return e.aggregate(ctx, q)
}

func (e *Engine) aggregate(ctx context.Context, q models.Query) (map[models.AggregateKey]models.AggregateStat, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	key := q.CacheKey()
	var (
		version   int64
		cacheable bool
	)
	if e.cache != nil {
		cached, v, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.WithError(err).WithField("key", key).Warn("Aggregate cache read failed")
		case ok:
			e.cacheHit()
			return statsMap(cached), nil
		default:
			version, cacheable = v, true
		}
		e.cacheMiss()
	}

	sales, err := e.store.ListSales(ctx, models.SaleFilter{
		To:     time.Date(q.Year, time.December, 31, 0, 0, 0, 0, time.UTC),
		Suburb: q.Suburb,
		Street: q.Street,
	})
	if err != nil {
		return nil, upstream(err)
	}

	stats := aggregateSales(sales, q)
	e.logger.WithFields(logrus.Fields{
		"level":    q.Level,
		"year":     q.Year,
		"sales":    len(sales),
		"entities": len(stats),
	}).Debug("Aggregated sales")

	if cacheable {
		if err := e.cache.Set(ctx, key, version, statsSlice(stats)); err != nil {
			e.logger.WithError(err).WithField("key", key).Warn("Aggregate cache write failed")
		}
	}
	return stats, nil
}

func (e *Engine) cacheHit() {
	if e.metrics != nil {
		e.metrics.CacheHit()
	}
}

func (e *Engine) cacheMiss() {
	if e.metrics != nil {
		e.metrics.CacheMiss()
	}
}

// TopPerformers builds growth and activity leaderboards for both levels.
// q.Level is ignored. n <= 0 uses the configured size.
func (e *Engine) TopPerformers(ctx context.Context, q models.Query, n int) (result *models.TopPerformers, err error) {
	defer e.observe("top_performers", time.Now(), &err)

	if n <= 0 {
		n = e.opts.LeaderboardSize
	}

	suburbQ, streetQ := q, q
	suburbQ.Level = models.LevelSuburb
	streetQ.Level = models.LevelStreet
	if err := streetQ.Validate(); err != nil {
		return nil, err
	}

	var suburbs, streets map[models.AggregateKey]models.AggregateStat
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		suburbs, err = e.aggregate(gctx, suburbQ)
		return err
	})
	g.Go(func() error {
		var err error
		streets, err = e.aggregate(gctx, streetQ)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &models.TopPerformers{
		Growth: models.LevelBoards{
			Suburbs: GrowthBoard(suburbs, n),
			Streets: GrowthBoard(streets, n),
		},
		Activity: models.LevelBoards{
			Suburbs: ActivityBoard(suburbs, n),
			Streets: ActivityBoard(streets, n),
		},
	}, nil
}

// SuburbCAGR returns the growth of one suburb in q.Year.
func (e *Engine) SuburbCAGR(ctx context.Context, q models.Query) (result *models.EntityGrowth, err error) {
	defer e.observe("suburb_cagr", time.Now(), &err)

	if q.Suburb == "" {
		return nil, fmt.Errorf("%w: suburb is required", ErrInvalidFilter)
	}
	q.Level = models.LevelSuburb
	q.Street = ""
	return e.entityGrowth(ctx, q, models.SuburbKey(q.Suburb))
}

// StreetCAGR returns the growth of one street in q.Year.
func (e *Engine) StreetCAGR(ctx context.Context, q models.Query) (result *models.EntityGrowth, err error) {
	defer e.observe("street_cagr", time.Now(), &err)

	if q.Suburb == "" || q.Street == "" {
		return nil, fmt.Errorf("%w: street_name and suburb are required", ErrInvalidFilter)
	}
	q.Level = models.LevelStreet
	return e.entityGrowth(ctx, q, models.StreetKey(q.Suburb, q.Street))
}

func (e *Engine) entityGrowth(ctx context.Context, q models.Query, key models.AggregateKey) (*models.EntityGrowth, error) {
	stats, err := e.aggregate(ctx, q)
	if err != nil {
		return nil, err
	}

	result := &models.EntityGrowth{
		Name:       key.Name(),
		Suburb:     key.Suburb,
		StreetName: key.Street,
		Year:       q.Year,
	}
	if s, ok := stats[key]; ok {
		result.AvgCAGR = s.AvgCAGR
		result.PropertyCount = s.PropertyCount
		result.SalesCount = s.SalesCount
	}
	return result, nil
}

// Trend returns the per-year growth series of one suburb (q.Level suburb) or
// one street (q.Level street). q.Year is ignored.
func (e *Engine) Trend(ctx context.Context, q models.Query) (points []models.TrendPoint, err error) {
	defer e.observe("trend", time.Now(), &err)

	switch q.Level {
	case models.LevelSuburb:
		if q.Suburb == "" {
			return nil, fmt.Errorf("%w: suburb is required", ErrInvalidFilter)
		}
		q.Street = ""
	case models.LevelStreet:
		if q.Suburb == "" || q.Street == "" {
			return nil, fmt.Errorf("%w: street_name and suburb are required", ErrInvalidFilter)
		}
	default:
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidFilter, q.Level)
	}
	if err := q.Filters.Validate(); err != nil {
		return nil, err
	}

	sales, err := e.store.ListSales(ctx, models.SaleFilter{Suburb: q.Suburb, Street: q.Street})
	if err != nil {
		return nil, upstream(err)
	}
	return buildTrend(sales, q), nil
}

// PropertyHistory returns the ordered sales of q.PropertyID with the growth of
// each transition. Unknown properties yield an empty list.
func (e *Engine) PropertyHistory(ctx context.Context, q models.Query) (history []models.PropertySale, err error) {
	defer e.observe("property_history", time.Now(), &err)

	propertyID := strings.TrimSpace(q.PropertyID)
	if propertyID == "" {
		return nil, fmt.Errorf("%w: property_id is required", ErrInvalidFilter)
	}

	sales, err := e.store.PropertySales(ctx, propertyID)
	if err != nil {
		return nil, upstream(err)
	}
	return History(sales), nil
}

// UnifiedMap builds the ranked clusters for q.Level and q.Year.
func (e *Engine) UnifiedMap(ctx context.Context, q models.Query, opts MapOptions) (result *models.UnifiedMap, err error) {
	defer e.observe("unified_map", time.Now(), &err)

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	stats, err := e.aggregate(ctx, q)
	if err != nil {
		return nil, err
	}

	return &models.UnifiedMap{
		Level:    q.Level,
		Year:     q.Year,
		Clusters: buildClusters(stats, opts.withDefaults(e.opts.Map)),
	}, nil
}

// Neighbors returns the entities closest to the one selected by q.Suburb (and
// q.Street at street level). Peers are drawn from the whole level, not just the
// selected suburb. An entity without a position has no neighbours.
func (e *Engine) Neighbors(ctx context.Context, q models.Query, limit int) (neighbors []models.Neighbor, err error) {
	defer e.observe("neighbors", time.Now(), &err)

	var target models.AggregateKey
	switch {
	case q.Level == models.LevelSuburb && q.Suburb != "":
		target = models.SuburbKey(q.Suburb)
	case q.Level == models.LevelStreet && q.Suburb != "" && q.Street != "":
		target = models.StreetKey(q.Suburb, q.Street)
	default:
		return nil, fmt.Errorf("%w: neighbours need a level and its entity", ErrInvalidFilter)
	}
	if limit <= 0 {
		limit = DefaultNeighborLimit
	}

	all := q
	all.Suburb, all.Street = "", ""
	stats, err := e.aggregate(ctx, all)
	if err != nil {
		return nil, err
	}

	neighbors = make([]models.Neighbor, 0, limit)
	origin, ok := stats[target]
	if !ok || origin.Coordinate == nil {
		return neighbors, nil
	}

	skip := func(k models.AggregateKey) bool { return k == target }
	for _, c := range nearest(*origin.Coordinate, statsSlice(stats), skip, 0, limit) {
		neighbors = append(neighbors, toNeighbor(c))
	}
	return neighbors, nil
}

// SuburbCentroids returns the mean position of every suburb with geocoded sales.
func (e *Engine) SuburbCentroids(ctx context.Context) (centroids []models.SuburbCentroid, err error) {
	defer e.observe("suburb_centroids", time.Now(), &err)

	sales, err := e.store.ListSales(ctx, models.SaleFilter{})
	if err != nil {
		return nil, upstream(err)
	}

	points := make(map[string][]orb.Point)
	for i := range sales {
		if sales[i].HasCoordinates() {
			points[sales[i].Suburb] = append(points[sales[i].Suburb], geometry.Point(*sales[i].Latitude, *sales[i].Longitude))
		}
	}

	centroids = make([]models.SuburbCentroid, 0, len(points))
	for suburb, pts := range points {
		c, _ := geometry.Centroid(pts)
		centroids = append(centroids, models.SuburbCentroid{
			Suburb:     suburb,
			Lat:        c.Lat(),
			Lon:        c.Lon(),
			SalesCount: len(pts),
		})
	}
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].Suburb < centroids[j].Suburb })
	return centroids, nil
}
