package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"growthmap/server/internal/models"
)

// Warmer runs the aggregation behind a query so its result lands in the cache.
type Warmer interface {
	Aggregate(ctx context.Context, q models.Query) (map[models.AggregateKey]models.AggregateStat, error)
}

// Scheduler periodically recomputes the aggregations the dashboard opens with,
// so the first request after a batch is stored does not pay for a full scan.
type Scheduler struct {
	warmer   Warmer
	logger   *logrus.Logger
	interval time.Duration
	queries  []models.Query
	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex
}

// DefaultQueries returns the unfiltered suburb and street queries for year.
func DefaultQueries(year int) []models.Query {
	return []models.Query{
		{Level: models.LevelSuburb, Year: year},
		{Level: models.LevelStreet, Year: year},
	}
}

// NewScheduler creates a new scheduler
func NewScheduler(warmer Warmer, interval time.Duration, queries []models.Query, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		warmer:   warmer,
		logger:   logger,
		interval: interval,
		queries:  queries,
		stopChan: make(chan struct{}),
	}
}

// Start runs one warm-up immediately and then one per interval.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce warms every configured query sequentially. Failures are logged and
// do not stop the remaining queries.
func (s *Scheduler) RunOnce() {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	start := time.Now()
	for _, q := range s.queries {
		fields := logrus.Fields{"level": q.Level, "year": q.Year}

		stats, err := s.warmer.Aggregate(ctx, q)
		if err != nil {
			s.logger.WithError(err).WithFields(fields).Error("Cache warm-up failed")
			continue
		}
		fields["entities"] = len(stats)
		s.logger.WithFields(fields).Debug("Cache warm-up completed")
	}

	s.logger.WithFields(logrus.Fields{
		"queries":     len(s.queries),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Cache warm-up run finished")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
