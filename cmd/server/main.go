package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"growthmap/server/config"
	"growthmap/server/internal/analytics"
	"growthmap/server/internal/api"
	"growthmap/server/internal/cache"
	"growthmap/server/internal/database"
	"growthmap/server/internal/database/postgres"
	"growthmap/server/internal/observability"
	"growthmap/server/internal/processor"
	"growthmap/server/internal/queue"
	"growthmap/server/internal/scheduler"
)

// saleStore is what the server needs from a sale record store.
type saleStore interface {
	analytics.SaleReader
	processor.SaleSink
	api.Pinger
	api.SaleCounter
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize sale store")
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	engine := analytics.NewEngine(store, analytics.Options{
		LeaderboardSize: cfg.Analytics.LeaderboardSize,
		Map: analytics.MapOptions{
			TopK:                cfg.Analytics.MapTopK,
			NeighborsPerCluster: cfg.Analytics.NeighborsPerCluster,
			NeighborRadiusKm:    cfg.Analytics.NeighborRadiusKm,
		},
	}, logger)
	engine.UseMetrics(metrics)

	saleQueue := queue.NewSaleQueue(cfg.BatchProcessing.QueueSize, logger)
	batchProcessor := processor.NewBatchProcessor(store, saleQueue, cfg, logger)
	batchProcessor.SetMetrics(metrics)

	handler := api.NewHandler(engine, saleQueue, api.Options{
		DefaultYear:  cfg.Analytics.DefaultYear,
		MaxBatchSize: cfg.BatchProcessing.MaxBatchSize,
	}, logger)
	handler.AddHealthCheck("store", store)
	handler.SetSaleCounter(store)

	if cfg.Cache.Enabled {
		redisCache := cache.NewRedisCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("Redis not reachable, aggregate cache will miss until it is")
		}
		engine.UseCache(redisCache)
		batchProcessor.SetInvalidator(redisCache)
		handler.AddHealthCheck("cache", redisCache)
		logger.WithField("addr", cfg.Cache.Addr).Info("Aggregate cache enabled")

		if cfg.Cache.WarmInterval > 0 {
			warmer := scheduler.NewScheduler(engine, cfg.Cache.WarmInterval, scheduler.DefaultQueries(cfg.Analytics.DefaultYear), logger)
			warmer.Start()
			defer warmer.Stop()
		}
	}

	batchProcessor.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestLogger(logger, metrics))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	api.SetupRoutes(router, handler, observability.Handler(reg))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	// Queued batches are written before the store is closed.
	batchProcessor.Stop()
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (saleStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Running database migrations...")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Using postgres sale store")
		return postgres.NewStore(pool), pool.Close, nil

	default:
		if dir := filepath.Dir(cfg.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		logger.Infof("Using database at: %s", cfg.Store.SQLitePath)

		db, err := database.NewDatabase(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Running database migrations...")
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}
}
